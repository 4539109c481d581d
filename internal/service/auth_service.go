package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"school-admin/internal/event"
	"school-admin/internal/metrics"
	"school-admin/internal/model"
	"school-admin/pkg/apierror"
)

type AuthService struct {
	users    UserStore
	students StudentStore
	issuer   *TokenIssuer
	bus      event.Bus
	metrics  *metrics.Metrics

	// dummyHash keeps the unknown-email path as slow as a wrong password.
	dummyHash []byte
}

func NewAuthService(users UserStore, students StudentStore, issuer *TokenIssuer, bus event.Bus, m *metrics.Metrics, bcryptCost int) (*AuthService, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("school-admin-timing-guard"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare password hasher: %w", err)
	}

	return &AuthService{
		users:     users,
		students:  students,
		issuer:    issuer,
		bus:       bus,
		metrics:   m,
		dummyHash: dummy,
	}, nil
}

func (s *AuthService) Issuer() *TokenIssuer {
	return s.issuer
}

// Login verifies staff credentials. Unknown email and wrong password both
// return model.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email string, password string) (model.Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.loginFailed(email, "unknown email")
		return model.Session{}, model.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return model.Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.loginFailed(email, "wrong password")
		return model.Session{}, model.ErrInvalidCredentials
	}

	principal := model.StaffPrincipal{User: user}
	pair, err := s.issuer.Issue(ctx, model.OwnerOf(principal))
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return model.Session{}, err
	}

	s.metrics.Login(metrics.ResultSuccess)
	s.publish(event.New(event.TypeLogin, principal, user.Email, event.StatusSuccess))

	return model.Session{TokenPair: pair, Principal: principal}, nil
}

// Refresh rotates the presented refresh token. Unknown, expired and orphaned
// tokens all surface as model.ErrTokenNotFound or model.ErrTokenExpired.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (model.Session, error) {
	owner, pair, err := s.issuer.Rotate(ctx, rawRefresh)
	if err != nil {
		if errors.Is(err, model.ErrOwnerNotFound) {
			err = fmt.Errorf("%w: owner removed", model.ErrTokenNotFound)
		}
		s.refreshFailed(err)
		return model.Session{}, err
	}

	principal, err := s.loadPrincipal(ctx, owner.Type, owner.ID)
	if err != nil {
		// The owner vanished between rotation and lookup; do not leave the new
		// record behind.
		if _, revokeErr := s.issuer.Revoke(ctx, pair.RefreshToken); revokeErr != nil {
			slog.Warn("failed to revoke orphaned refresh token", "error", revokeErr)
		}
		if isNotFound(err) {
			err = fmt.Errorf("%w: owner removed", model.ErrTokenNotFound)
		}
		s.refreshFailed(err)
		return model.Session{}, err
	}

	s.metrics.Refresh(metrics.ResultSuccess)
	s.publish(event.New(event.TypeRefresh, principal, "", event.StatusSuccess))

	return model.Session{TokenPair: pair, Principal: principal}, nil
}

// Logout revokes the refresh token if one was presented. Store failures are
// logged and swallowed so the caller can always clear the cookie.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string) {
	s.metrics.Logout()
	if rawRefresh == "" {
		s.publish(event.New(event.TypeLogout, nil, "", event.StatusSuccess).WithDetails("no refresh cookie"))
		return
	}

	n, err := s.issuer.Revoke(ctx, rawRefresh)
	if err != nil {
		slog.Error("failed to revoke refresh token on logout", "error", err)
		s.publish(event.New(event.TypeLogout, nil, "", event.StatusFailure).WithDetails(err.Error()))
		return
	}

	s.publish(event.New(event.TypeLogout, nil, "", event.StatusSuccess).WithDetails(fmt.Sprintf("revoked=%d", n)))
}

// Authenticate turns a bearer token into the principal it names. Deliberate
// rejections are *apierror.APIError values; anything else is unexpected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}

	principal, err := s.loadPrincipal(ctx, claims.Type, claims.ID)
	if isNotFound(err) {
		return nil, apierror.Unauthorized(apierror.CodeUnauthorized, "account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	return principal, nil
}

// Reauthorize reloads p from the store and applies allowed to its current
// role. Long-lived connections use it to notice demotions and deletions.
func (s *AuthService) Reauthorize(ctx context.Context, p model.Principal, allowed ...model.Role) error {
	principal, err := s.loadPrincipal(ctx, p.EntityType(), p.EntityID())
	if isNotFound(err) {
		return apierror.Unauthorized(apierror.CodeUnauthorized, "account no longer exists")
	}
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	return Authorize(principal, allowed...)
}

// Authorize applies a role allow-list to a principal using its stored role.
// Students carry no role and are not subject to allow-lists.
func Authorize(p model.Principal, allowed ...model.Role) error {
	if len(allowed) == 0 {
		return nil
	}

	switch principal := p.(type) {
	case model.StaffPrincipal:
		for _, role := range allowed {
			if principal.User.Role == role {
				return nil
			}
		}
		return apierror.Forbidden("insufficient permissions")
	case model.StudentPrincipal:
		return nil
	default:
		return fmt.Errorf("unknown principal %T", p)
	}
}

// StartCleanupTicker purges expired refresh tokens on interval until ctx is
// cancelled.
func (s *AuthService) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.PurgeExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PurgeExpired(ctx)
		}
	}
}

func (s *AuthService) PurgeExpired(ctx context.Context) int64 {
	n, err := s.issuer.tokens.DeleteExpired(ctx, s.issuer.now())
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to purge expired refresh tokens", "error", err)
		}
		return 0
	}

	s.metrics.TokensPurged(n)
	if n > 0 {
		slog.Info("purged expired refresh tokens", "count", n)
		s.publish(event.New(event.TypeTokensPurged, nil, "", event.StatusSuccess).WithDetails(fmt.Sprintf("count=%d", n)))
	}
	return n
}

func (s *AuthService) loadPrincipal(ctx context.Context, typ model.EntityType, id string) (model.Principal, error) {
	switch typ {
	case model.EntityUser:
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return model.StaffPrincipal{User: user}, nil
	case model.EntityStudent:
		student, err := s.students.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return model.StudentPrincipal{Student: student}, nil
	default:
		return nil, fmt.Errorf("%w: entity type %q", model.ErrInvalidInput, typ)
	}
}

func (s *AuthService) loginFailed(email string, reason string) {
	s.metrics.Login(metrics.ResultFailure)
	s.publish(event.New(event.TypeLoginFailed, nil, model.NormalizeEmail(email), event.StatusFailure).WithDetails(reason))
}

func (s *AuthService) refreshFailed(err error) {
	if errors.Is(err, model.ErrTokenNotFound) || errors.Is(err, model.ErrTokenExpired) {
		s.metrics.Refresh(metrics.ResultFailure)
	} else {
		s.metrics.Refresh(metrics.ResultError)
	}
	s.publish(event.New(event.TypeRefreshFailed, nil, "", event.StatusFailure).WithDetails(err.Error()))
}

func (s *AuthService) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrUserNotFound) || errors.Is(err, model.ErrStudentNotFound)
}
