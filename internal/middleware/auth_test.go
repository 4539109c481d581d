package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-admin/internal/model"
	"school-admin/pkg/apierror"
)

type stubAuthenticator struct {
	principals map[string]model.Principal
	err        error
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (model.Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.principals[token]
	if !ok {
		return nil, apierror.Unauthorized(apierror.CodeTokenInvalid, "invalid access token")
	}
	return p, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()

	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.NotNil(t, body.Error)
	return *body.Error
}

func TestAuthMiddleware(t *testing.T) {
	admin := model.StaffPrincipal{User: model.User{ID: "a1", Role: model.RoleAdmin}}
	prof := model.StaffPrincipal{User: model.User{ID: "p1", Role: model.RoleProfesor}}
	student := model.StudentPrincipal{Student: model.Student{ID: "s1"}}

	auth := NewAuthMiddleware(stubAuthenticator{principals: map[string]model.Principal{
		"admin":   admin,
		"prof":    prof,
		"student": student,
	}}, nil)

	reached := false
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(p.EntityID()))
	})
	adminOnly := auth.RequireAuth(auth.RequireRoles(model.RoleAdmin)(final))

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{name: "no header", header: "", status: http.StatusUnauthorized, code: apierror.CodeMissingToken},
		{name: "wrong scheme", header: "Basic admin", status: http.StatusUnauthorized, code: apierror.CodeMissingToken},
		{name: "bearer without token", header: "Bearer", status: http.StatusUnauthorized, code: apierror.CodeMissingToken},
		{name: "unknown token", header: "Bearer nope", status: http.StatusUnauthorized, code: apierror.CodeTokenInvalid},
		{name: "wrong role", header: "Bearer prof", status: http.StatusForbidden, code: apierror.CodeForbidden},
		{name: "admin", header: "bearer admin", status: http.StatusOK},
		{name: "student bypasses roles", header: "Bearer student", status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodGet, "/admin/usuarios", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			adminOnly.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, rec).Code)
				assert.False(t, reached, "handler must not run on rejection")
			} else {
				assert.True(t, reached)
			}
		})
	}
}

func TestAuthMiddleware_UnexpectedErrorIsOpaque500(t *testing.T) {
	auth := NewAuthMiddleware(stubAuthenticator{err: errors.New("connection reset by peer")}, nil)
	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apierror.CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "connection reset")
}

func TestAuthMiddleware_OptionalAuth(t *testing.T) {
	admin := model.StaffPrincipal{User: model.User{ID: "a1", Role: model.RoleAdmin}}
	auth := NewAuthMiddleware(stubAuthenticator{principals: map[string]model.Principal{"admin": admin}}, nil)

	handler := auth.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			_, _ = w.Write([]byte(p.EntityID()))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/crear-admin", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/admin/crear-admin", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "a1", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/admin/crear-admin", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRolesWithoutPrincipal(t *testing.T) {
	auth := NewAuthMiddleware(stubAuthenticator{}, nil)
	handler := auth.RequireRoles(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apierror.CodeUnauthorized, decodeError(t, rec).Code)
}
