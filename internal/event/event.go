package event

import (
	"time"

	"github.com/google/uuid"

	"school-admin/internal/model"
)

type Type string

const (
	TypeLogin         Type = "auth.login"
	TypeLoginFailed   Type = "auth.login_failed"
	TypeRefresh       Type = "auth.refresh"
	TypeRefreshFailed Type = "auth.refresh_failed"
	TypeLogout        Type = "auth.logout"
	TypeAdminCreated  Type = "admin.created"
	TypeRoleChanged   Type = "user.role_changed"
	TypeUserDeleted   Type = "user.deleted"
	TypeProfesorAdded Type = "profesor.created"
	TypeStudentAdded  Type = "estudiante.created"
	TypeTokensPurged  Type = "tokens.purged"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

type Event struct {
	ID        string           `json:"id"`
	Type      Type             `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	ActorID   string           `json:"actor_id,omitempty"` // Who triggered the event
	ActorType model.EntityType `json:"actor_type,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	Status    string           `json:"status"`
	Details   string           `json:"details,omitempty"`
}

// New stamps an event with an id and the current time. actor may be nil for
// anonymous or system events.
func New(t Type, actor model.Principal, subject string, status string) Event {
	e := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Status:    status,
	}
	if actor != nil {
		e.ActorID = actor.EntityID()
		e.ActorType = actor.EntityType()
	}
	return e
}

func (e Event) WithDetails(details string) Event {
	e.Details = details
	return e
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
