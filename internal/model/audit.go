package model

import "time"

type AuditEntry struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	OccurredAt time.Time  `json:"occurred_at"`
	ActorID    string     `json:"actor_id,omitempty"`
	ActorType  EntityType `json:"actor_type,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	Status     string     `json:"status"`
	Details    string     `json:"details,omitempty"`
}

type AuditQuery struct {
	Action  string
	ActorID string
	Page    int
	Limit   int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}

// Normalize clamps paging to the accepted range.
func (q AuditQuery) Normalize() AuditQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	return q
}

func NewMeta(page int, limit int, total int) Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
