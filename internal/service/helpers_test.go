package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"school-admin/internal/event"
	"school-admin/internal/model"
	"school-admin/internal/repository/boltstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	users    *boltstore.UserRepository
	students *boltstore.StudentRepository
	tokens   *boltstore.TokenRepository
	audit    *boltstore.AuditRepository
	bus      *event.InMemoryBus
	issuer   *TokenIssuer
	auth     *AuthService
	admin    *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := boltstore.Open(filepath.Join(t.TempDir(), "school.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		users:    boltstore.NewUserRepository(db),
		students: boltstore.NewStudentRepository(db),
		tokens:   boltstore.NewTokenRepository(db),
		audit:    boltstore.NewAuditRepository(db),
		bus:      event.NewBus(),
	}
	env.issuer = NewTokenIssuer(testSecret, 15*time.Minute, 7*24*time.Hour, env.tokens)

	env.auth, err = NewAuthService(env.users, env.students, env.issuer, env.bus, nil, bcrypt.MinCost)
	require.NoError(t, err)
	env.admin = NewAdminService(env.users, env.tokens, env.bus, bcrypt.MinCost)
	return env
}

func (e *testEnv) createStaff(t *testing.T, email string, password string, role model.Role) model.User {
	t.Helper()

	req := model.CreateStaffRequest{Name: "Staff", Email: email, Password: password}
	var (
		payload model.EntityPayload
		err     error
	)
	if role == model.RoleAdmin {
		payload, err = e.admin.CreateAdmin(context.Background(), e.anyAdmin(t), req)
	} else {
		payload, err = e.admin.CreateProfesor(context.Background(), nil, req)
	}
	require.NoError(t, err)

	user, err := e.users.FindByID(context.Background(), payload.ID)
	require.NoError(t, err)
	return user
}

// anyAdmin returns an existing admin principal, or nil while none exists.
func (e *testEnv) anyAdmin(t *testing.T) model.Principal {
	t.Helper()

	users, err := e.users.List(context.Background())
	require.NoError(t, err)
	for _, u := range users {
		if u.Role == model.RoleAdmin {
			return model.StaffPrincipal{User: u}
		}
	}
	return nil
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) Create(ctx context.Context, token model.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockTokenStore) Consume(ctx context.Context, tokenHash string, now time.Time,
	replace func(owner model.TokenOwner) (model.RefreshToken, error)) (model.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, now, replace)
	return args.Get(0).(model.RefreshToken), args.Error(1)
}

func (m *mockTokenStore) DeleteByHash(ctx context.Context, tokenHash string) (int64, error) {
	args := m.Called(ctx, tokenHash)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokenStore) DeleteForOwner(ctx context.Context, owner model.TokenOwner) (int64, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
