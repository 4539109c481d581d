package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"school-admin/internal/metrics"
	"school-admin/internal/model"
	"school-admin/internal/service"
	"school-admin/pkg/apierror"
)

type authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Principal, error)
}

type contextKey string

const principalContextKey contextKey = "principal"

type AuthMiddleware struct {
	auth    authenticator
	metrics *metrics.Metrics
}

func NewAuthMiddleware(auth authenticator, m *metrics.Metrics) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, metrics: m}
}

// RequireAuth rejects the request unless it carries a valid bearer token for
// an entity that still exists.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.reject(w, apierror.Unauthorized(apierror.CodeMissingToken, "missing or malformed authorization header"))
			return
		}

		m.authenticate(w, r, token, next)
	})
}

// OptionalAuth authenticates when an Authorization header is present and
// lets anonymous requests through untouched.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			m.reject(w, apierror.Unauthorized(apierror.CodeMissingToken, "missing or malformed authorization header"))
			return
		}

		m.authenticate(w, r, token, next)
	})
}

// RequireRoles must run after RequireAuth. The check uses the role loaded
// from the store for this request.
func (m *AuthMiddleware) RequireRoles(allowedRoles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.reject(w, apierror.Unauthorized(apierror.CodeUnauthorized, "authentication required"))
				return
			}

			if err := service.Authorize(principal, allowedRoles...); err != nil {
				m.fail(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.Principal)
	return principal, ok && principal != nil
}

func WithPrincipal(ctx context.Context, principal model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request, token string, next http.Handler) {
	principal, err := m.auth.Authenticate(r.Context(), token)
	if err != nil {
		m.fail(w, r, err)
		return
	}

	annotateEntity(r.Context(), principal.EntityID(), string(principal.EntityType()))
	next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
}

// fail writes deliberate rejections as they are and hides everything else
// behind an opaque 500.
func (m *AuthMiddleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		m.reject(w, apiErr)
		return
	}

	slog.Error("auth middleware failure",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"error", err)
	m.metrics.AuthRejected(apierror.CodeInternal)
	writeErrorJSON(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, apiErr *apierror.APIError) {
	m.metrics.AuthRejected(apiErr.Code)
	writeErrorJSON(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message)
}

func bearerToken(r *http.Request) (string, bool) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return "", false
	}
	return fields[1], true
}
