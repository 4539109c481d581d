package service

import (
	"context"
	"time"

	"school-admin/internal/model"
)

// UserStore is implemented by repository.UserRepository (Postgres) and
// boltstore.UserRepository.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	UpdateRole(ctx context.Context, id string, role model.Role, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.User, error)
	CountByRole(ctx context.Context, role model.Role) (int, error)
}

type StudentStore interface {
	FindByID(ctx context.Context, id string) (model.Student, error)
	Create(ctx context.Context, s model.Student) error
	List(ctx context.Context) ([]model.Student, error)
	Count(ctx context.Context) (int, error)
}

// TokenStore persists refresh-token records keyed by the token hash.
// Consume must delete the presented record and insert its replacement
// atomically.
type TokenStore interface {
	Create(ctx context.Context, token model.RefreshToken) error
	Consume(ctx context.Context, tokenHash string, now time.Time,
		replace func(owner model.TokenOwner) (model.RefreshToken, error)) (model.RefreshToken, error)
	DeleteByHash(ctx context.Context, tokenHash string) (int64, error)
	DeleteForOwner(ctx context.Context, owner model.TokenOwner) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error)
}
