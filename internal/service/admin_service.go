package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"school-admin/internal/event"
	"school-admin/internal/model"
	"school-admin/internal/util"
	"school-admin/pkg/apierror"
)

// AdminService manages staff accounts.
type AdminService struct {
	users      UserStore
	tokens     TokenStore
	bus        event.Bus
	bcryptCost int

	// bootstrapMu serialises admin-count checks with the writes they guard.
	bootstrapMu sync.Mutex
}

func NewAdminService(users UserStore, tokens TokenStore, bus event.Bus, bcryptCost int) *AdminService {
	return &AdminService{users: users, tokens: tokens, bus: bus, bcryptCost: bcryptCost}
}

// CreateAdmin registers an admin. While no admin exists anyone may call it;
// afterwards only an authenticated admin may.
func (s *AdminService) CreateAdmin(ctx context.Context, actor model.Principal, req model.CreateStaffRequest) (model.EntityPayload, error) {
	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	admins, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return model.EntityPayload{}, err
	}

	bootstrap := admins == 0
	if !bootstrap {
		if actor == nil {
			return model.EntityPayload{}, apierror.Unauthorized(apierror.CodeMissingToken, "authentication required")
		}
		if err := Authorize(actor, model.RoleAdmin); err != nil {
			return model.EntityPayload{}, err
		}
	}

	user, err := s.createStaff(ctx, req, model.RoleAdmin)
	if err != nil {
		return model.EntityPayload{}, err
	}

	e := event.New(event.TypeAdminCreated, actor, user.ID, event.StatusSuccess)
	if bootstrap {
		slog.Info("bootstrap admin created", "user_id", user.ID)
		e = e.WithDetails("bootstrap")
	}
	s.publish(e)

	return model.StaffPrincipal{User: user}.Payload(), nil
}

func (s *AdminService) CreateProfesor(ctx context.Context, actor model.Principal, req model.CreateStaffRequest) (model.EntityPayload, error) {
	user, err := s.createStaff(ctx, req, model.RoleProfesor)
	if err != nil {
		return model.EntityPayload{}, err
	}

	s.publish(event.New(event.TypeProfesorAdded, actor, user.ID, event.StatusSuccess))
	return model.StaffPrincipal{User: user}.Payload(), nil
}

// ListUsers returns every staff account, or only those holding role when it
// is non-empty.
func (s *AdminService) ListUsers(ctx context.Context, role model.Role) ([]model.EntityPayload, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.EntityPayload, 0, len(users))
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		items = append(items, model.StaffPrincipal{User: u}.Payload())
	}
	return items, nil
}

// UpdateRole changes the stored role. Tokens already issued stay valid; the
// new role applies from the holder's next request.
func (s *AdminService) UpdateRole(ctx context.Context, actor model.Principal, id string, rawRole string) (model.EntityPayload, error) {
	role, ok := model.ParseRole(rawRole)
	if !ok {
		return model.EntityPayload{}, apierror.BadRequest("invalid role", rawRole)
	}

	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	before, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.EntityPayload{}, err
	}

	if before.Role == model.RoleAdmin && role != model.RoleAdmin {
		if err := s.keepOneAdmin(ctx); err != nil {
			return model.EntityPayload{}, err
		}
	}

	if err := s.users.UpdateRole(ctx, id, role, time.Now().UTC()); err != nil {
		return model.EntityPayload{}, err
	}

	s.publish(event.New(event.TypeRoleChanged, actor, id, event.StatusSuccess).
		WithDetails(fmt.Sprintf("%s -> %s", before.Role, role)))

	before.Role = role
	return model.StaffPrincipal{User: before}.Payload(), nil
}

// DeleteUser removes a staff account and every refresh token it holds.
func (s *AdminService) DeleteUser(ctx context.Context, actor model.Principal, id string) error {
	if actor != nil && actor.EntityType() == model.EntityUser && actor.EntityID() == id {
		return apierror.BadRequest("cannot delete your own account", "")
	}

	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	target, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == model.RoleAdmin {
		if err := s.keepOneAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	owner := model.TokenOwner{Type: model.EntityUser, ID: id}
	if _, err := s.tokens.DeleteForOwner(ctx, owner); err != nil {
		slog.Warn("failed to revoke tokens of deleted user", "user_id", id, "error", err)
	}

	s.publish(event.New(event.TypeUserDeleted, actor, id, event.StatusSuccess))
	return nil
}

// keepOneAdmin fails when removing one admin would leave none. Callers hold
// bootstrapMu.
func (s *AdminService) keepOneAdmin(ctx context.Context) error {
	admins, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return apierror.BadRequest("cannot remove the last admin", "")
	}
	return nil
}

func (s *AdminService) createStaff(ctx context.Context, req model.CreateStaffRequest, role model.Role) (model.User, error) {
	email := model.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return model.User{}, model.ErrInvalidInput
	}
	name, err := util.SanitizeDisplayName(req.Name)
	if err != nil {
		return model.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return model.User{}, apierror.BadRequest("password too long", "")
		}
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *AdminService) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
