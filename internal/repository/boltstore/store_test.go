package boltstore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"school-admin/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "nested", "school.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUser(t *testing.T, repo *UserRepository, email string, role model.Role) model.User {
	t.Helper()

	now := time.Now().UTC()
	u := model.User{
		ID:           uuid.NewString(),
		Name:         "User " + email,
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func refreshFor(owner model.TokenOwner, hash string, expiresAt time.Time) model.RefreshToken {
	return model.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: hash,
		Owner:     owner,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

func TestUserRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	admin := seedUser(t, repo, "Admin@School.test", model.RoleAdmin)
	seedUser(t, repo, "prof@school.test", model.RoleProfesor)

	got, err := repo.FindByEmail(ctx, "  admin@school.TEST ")
	require.NoError(t, err)
	require.Equal(t, admin.ID, got.ID)

	err = repo.Create(ctx, model.User{ID: uuid.NewString(), Email: "ADMIN@school.test", Role: model.RoleAdmin})
	require.ErrorIs(t, err, model.ErrUserAlreadyExists)

	_, err = repo.FindByID(ctx, "missing")
	require.ErrorIs(t, err, model.ErrUserNotFound)

	admins, err := repo.CountByRole(ctx, model.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 1, admins)

	require.NoError(t, repo.UpdateRole(ctx, admin.ID, model.RoleProfesor, time.Now().UTC()))
	got, err = repo.FindByID(ctx, admin.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleProfesor, got.Role)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, admin.ID, users[0].ID)

	require.NoError(t, repo.Delete(ctx, admin.ID))
	_, err = repo.FindByEmail(ctx, admin.Email)
	require.ErrorIs(t, err, model.ErrUserNotFound)
	require.ErrorIs(t, repo.Delete(ctx, admin.ID), model.ErrUserNotFound)
}

func TestStudentRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewStudentRepository(openTestDB(t))

	s := model.Student{ID: uuid.NewString(), Name: "Ana", Email: "ana@school.test"}
	require.NoError(t, repo.Create(ctx, s))
	require.ErrorIs(t, repo.Create(ctx, model.Student{ID: uuid.NewString(), Email: "ANA@school.test"}), model.ErrStudentExists)

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "Ana", got.Name)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTokenConsumeRotates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	tokens := NewTokenRepository(db)

	u := seedUser(t, users, "a@school.test", model.RoleAdmin)
	owner := model.TokenOwner{Type: model.EntityUser, ID: u.ID}
	now := time.Now().UTC()

	require.NoError(t, tokens.Create(ctx, refreshFor(owner, "old", now.Add(time.Hour))))

	consumed, err := tokens.Consume(ctx, "old", now, func(o model.TokenOwner) (model.RefreshToken, error) {
		require.Equal(t, owner, o)
		return refreshFor(o, "new", now.Add(time.Hour)), nil
	})
	require.NoError(t, err)
	require.Equal(t, owner, consumed.Owner)

	_, err = tokens.Consume(ctx, "old", now, func(o model.TokenOwner) (model.RefreshToken, error) {
		t.Fatal("replace must not run for an unknown token")
		return model.RefreshToken{}, nil
	})
	require.ErrorIs(t, err, model.ErrTokenNotFound)

	n, err := tokens.DeleteByHash(ctx, "new")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestTokenConsumeExpiredDeletesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	u := seedUser(t, NewUserRepository(db), "a@school.test", model.RoleAdmin)
	tokens := NewTokenRepository(db)
	owner := model.TokenOwner{Type: model.EntityUser, ID: u.ID}
	now := time.Now().UTC()

	require.NoError(t, tokens.Create(ctx, refreshFor(owner, "stale", now.Add(-time.Second))))

	_, err := tokens.Consume(ctx, "stale", now, func(model.TokenOwner) (model.RefreshToken, error) {
		t.Fatal("replace must not run for an expired token")
		return model.RefreshToken{}, nil
	})
	require.ErrorIs(t, err, model.ErrTokenExpired)

	n, err := tokens.DeleteByHash(ctx, "stale")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTokenConsumeConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	u := seedUser(t, NewUserRepository(db), "a@school.test", model.RoleAdmin)
	tokens := NewTokenRepository(db)
	owner := model.TokenOwner{Type: model.EntityUser, ID: u.ID}
	now := time.Now().UTC()

	require.NoError(t, tokens.Create(ctx, refreshFor(owner, "shared", now.Add(time.Hour))))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tokens.Consume(ctx, "shared", now, func(o model.TokenOwner) (model.RefreshToken, error) {
				return refreshFor(o, uuid.NewString(), now.Add(time.Hour)), nil
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
}

func TestTokenOwnerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	tokens := NewTokenRepository(db)
	now := time.Now().UTC()

	err := tokens.Create(ctx, refreshFor(model.TokenOwner{Type: model.EntityUser, ID: "ghost"}, "x", now.Add(time.Hour)))
	require.ErrorIs(t, err, model.ErrOwnerNotFound)

	u := seedUser(t, users, "a@school.test", model.RoleAdmin)
	owner := model.TokenOwner{Type: model.EntityUser, ID: u.ID}
	require.NoError(t, tokens.Create(ctx, refreshFor(owner, "t1", now.Add(time.Hour))))
	require.NoError(t, tokens.Create(ctx, refreshFor(owner, "t2", now.Add(-time.Hour))))

	purged, err := tokens.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	require.NoError(t, users.Delete(ctx, u.ID))
	n, err := tokens.DeleteForOwner(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, n, "deleting the user cascades to its tokens")
}

func TestAuditQueryNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewAuditRepository(openTestDB(t))
	base := time.Now().UTC()

	for i, action := range []string{"auth.login", "auth.refresh", "auth.login", "auth.logout"} {
		require.NoError(t, repo.Append(ctx, model.AuditEntry{
			ID:         uuid.NewString(),
			Action:     action,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			ActorID:    "u1",
			Status:     "success",
		}))
	}

	entries, total, err := repo.Query(ctx, model.AuditQuery{Action: "AUTH.LOGIN", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, entries, 1)
	require.True(t, entries[0].OccurredAt.Equal(base.Add(2*time.Second)))

	entries, total, err = repo.Query(ctx, model.AuditQuery{Page: 2, Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, entries, 1)
	require.Equal(t, "auth.login", entries[0].Action)
}
