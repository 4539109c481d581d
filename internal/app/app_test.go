package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"school-admin/internal/config"
	"school-admin/internal/model"
	"school-admin/internal/service"
	"school-admin/pkg/apierror"
	"school-admin/pkg/sessionclient"
)

const password = "correct-horse-battery"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type testServer struct {
	*httptest.Server
	cfg    *config.Config
	stores *Stores
	c      *components
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		ServerPort:           "0",
		RequestTimeout:       5 * time.Second,
		Environment:          "test",
		StoreDriver:          config.StoreDriverBolt,
		BoltPath:             filepath.Join(t.TempDir(), "school.db"),
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		JWTAccessTTL:         15 * time.Minute,
		RefreshTokenDays:     7,
		RefreshCookieName:    "refreshToken",
		BcryptCost:           bcrypt.MinCost,
		CORSOrigins:          []string{"http://localhost:5173"},
		RateLimitRPM:         10000,
		AuthRateLimitRPM:     10000,
		TokenCleanupInterval: time.Hour,
	}
	require.NoError(t, cfg.Validate())

	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)

	c, err := build(cfg, stores, nil, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go c.runAudit(ctx)
	go c.runStream(ctx)

	srv := httptest.NewServer(c.handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		stores.Close()
	})

	return &testServer{Server: srv, cfg: cfg, stores: stores, c: c}
}

type call struct {
	method string
	path   string
	token  string
	body   any
	cookie *http.Cookie
}

func (s *testServer) do(t *testing.T, c call) (*http.Response, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(c.method, s.URL+c.path, reader)
	require.NoError(t, err)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	t.Fatalf("response carries no refreshToken cookie")
	return nil
}

func decodeSession(t *testing.T, env envelope) model.SessionResponse {
	t.Helper()

	require.True(t, env.Success, "unexpected error: %+v", env.Error)
	var session model.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.AccessToken)
	return session
}

func (s *testServer) createAdmin(t *testing.T, token string, email string) model.EntityPayload {
	t.Helper()

	resp, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/admin/crear-admin",
		token:  token,
		body:   model.CreateStaffRequest{Name: "Admin", Email: email, Password: password},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "error: %+v", env.Error)

	var user model.EntityPayload
	require.NoError(t, json.Unmarshal(env.Data, &user))
	return user
}

func (s *testServer) login(t *testing.T, email string) (model.SessionResponse, *http.Cookie) {
	t.Helper()

	resp, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   model.LoginRequest{Email: email, Password: password},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeSession(t, env), refreshCookie(t, resp)
}

func TestBootstrapAdminThenRoleGatedRoutes(t *testing.T) {
	s := newTestServer(t)

	admin := s.createAdmin(t, "", "admin@school.test")
	assert.Equal(t, model.RoleAdmin, admin.Role)

	resp, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/admin/crear-admin",
		body:   model.CreateStaffRequest{Name: "Intruder", Email: "x@school.test", Password: password},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeMissingToken, env.Error.Code)

	session, cookie := s.login(t, "admin@school.test")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.False(t, cookie.Secure)
	assert.Equal(t, 7*24*3600, cookie.MaxAge)
	assert.Equal(t, admin.ID, session.User.ID)
	assert.Equal(t, model.EntityUser, session.User.Type)

	resp, env = s.do(t, call{method: http.MethodGet, path: "/profesores/perfil", token: session.AccessToken})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apierror.CodeForbidden, env.Error.Code)

	resp, env = s.do(t, call{method: http.MethodGet, path: "/dashboard", token: session.AccessToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var summary model.DashboardSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 1, summary.Admins)

	resp, _ = s.do(t, call{method: http.MethodGet, path: "/admin/usuarios", token: session.AccessToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, call{method: http.MethodGet, path: "/dashboard"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginValidationAndCredentials(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "admin@school.test")

	resp, env := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "admin@school.test"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeBadRequest, env.Error.Code)
	assert.Contains(t, env.Error.Details, "password")

	resp, wrongPassword := s.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: model.LoginRequest{Email: "admin@school.test", Password: "nope"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeInvalidCredentials, wrongPassword.Error.Code)

	resp, unknown := s.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: model.LoginRequest{Email: "ghost@school.test", Password: password}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, wrongPassword.Error, unknown.Error)
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	s := newTestServer(t)
	admin := s.createAdmin(t, "", "admin@school.test")
	first, firstCookie := s.login(t, "admin@school.test")

	claims, err := s.c.auth.Issuer().Verify(first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, claims.ID)
	assert.Equal(t, model.EntityUser, claims.Type)

	resp, env := s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token", cookie: firstCookie})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeSession(t, env)
	secondCookie := refreshCookie(t, resp)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, firstCookie.Value, secondCookie.Value)
	assert.Equal(t, admin.ID, second.User.ID)

	resp, env = s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token", cookie: firstCookie})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeRefreshTokenInvalid, env.Error.Code)

	resp, env = s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeNoRefreshToken, env.Error.Code)

	resp, _ = s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token", cookie: secondCookie})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredRefreshTokenIsRejectedAndRemoved(t *testing.T) {
	s := newTestServer(t)
	admin := s.createAdmin(t, "", "admin@school.test")
	ctx := context.Background()

	raw := "stale-refresh-token"
	require.NoError(t, s.stores.Tokens.Create(ctx, model.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: service.HashRefreshToken(raw),
		Owner:     model.TokenOwner{Type: model.EntityUser, ID: admin.ID},
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
	}))

	resp, env := s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token",
		cookie: &http.Cookie{Name: "refreshToken", Value: raw}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeRefreshTokenInvalid, env.Error.Code)

	n, err := s.stores.Tokens.DeleteByHash(ctx, service.HashRefreshToken(raw))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTamperedAccessTokenNeverReachesHandler(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "admin@school.test")
	session, _ := s.login(t, "admin@school.test")

	parts := strings.Split(session.AccessToken, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x80
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)

	resp, env := s.do(t, call{method: http.MethodGet, path: "/dashboard", token: tampered})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeTokenInvalid, env.Error.Code)
	assert.Nil(t, env.Data)
}

func TestRoleChangeAppliesOnNextRequest(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "root@school.test")
	root, _ := s.login(t, "root@school.test")

	second := s.createAdmin(t, root.AccessToken, "second@school.test")
	session, _ := s.login(t, "second@school.test")

	resp, _ := s.do(t, call{method: http.MethodGet, path: "/dashboard", token: session.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := s.do(t, call{
		method: http.MethodPut,
		path:   "/admin/usuarios/" + second.ID + "/rol",
		token:  root.AccessToken,
		body:   model.UpdateRoleRequest{Role: "profesor"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "error: %+v", env.Error)

	resp, env = s.do(t, call{method: http.MethodGet, path: "/dashboard", token: session.AccessToken})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apierror.CodeForbidden, env.Error.Code)

	resp, _ = s.do(t, call{method: http.MethodGet, path: "/profesores/perfil", token: session.AccessToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeletedUserTokenIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "root@school.test")
	root, _ := s.login(t, "root@school.test")

	resp, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/profesores",
		token:  root.AccessToken,
		body:   model.CreateStaffRequest{Name: "Prof", Email: "prof@school.test", Password: password},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var prof model.EntityPayload
	require.NoError(t, json.Unmarshal(env.Data, &prof))

	session, cookie := s.login(t, "prof@school.test")

	resp, _ = s.do(t, call{method: http.MethodDelete, path: "/admin/usuarios/" + prof.ID, token: root.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = s.do(t, call{method: http.MethodGet, path: "/profesores/perfil", token: session.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeUnauthorized, env.Error.Code)

	resp, _ = s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token", cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)

	t.Run("without cookie still clears", func(t *testing.T) {
		resp, env := s.do(t, call{method: http.MethodPost, path: "/auth/logout"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var msg model.MessageResponse
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.NotEmpty(t, msg.Message)

		cleared := refreshCookie(t, resp)
		assert.Empty(t, cleared.Value)
		assert.Less(t, cleared.MaxAge, 0)
	})

	t.Run("with cookie revokes the token", func(t *testing.T) {
		s.createAdmin(t, "", "admin@school.test")
		_, cookie := s.login(t, "admin@school.test")

		resp, _ := s.do(t, call{method: http.MethodPost, path: "/auth/logout", cookie: cookie})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, env := s.do(t, call{method: http.MethodPost, path: "/auth/refresh-token", cookie: cookie})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, apierror.CodeRefreshTokenInvalid, env.Error.Code)
	})
}

func TestStudentsAndAuditLog(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "admin@school.test")
	session, _ := s.login(t, "admin@school.test")

	resp, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/estudiantes",
		token:  session.AccessToken,
		body:   model.CreateStudentRequest{Name: "Ana", Email: "ana@school.test"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var student model.Student
	require.NoError(t, json.Unmarshal(env.Data, &student))

	resp, _ = s.do(t, call{method: http.MethodGet, path: "/estudiantes/" + student.ID, token: session.AccessToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = s.do(t, call{method: http.MethodGet, path: "/estudiantes/missing", token: session.AccessToken})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apierror.CodeNotFound, env.Error.Code)

	require.Eventually(t, func() bool {
		resp, env := s.do(t, call{method: http.MethodGet, path: "/admin/auditoria?action=auth.login", token: session.AccessToken})
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var data model.AuditListData
		return json.Unmarshal(env.Data, &data) == nil && len(data.Items) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSessionClientAgainstServer(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "admin@school.test")

	var expired bool
	client, err := sessionclient.New(s.URL, sessionclient.WithSessionExpired(func() { expired = true }))
	require.NoError(t, err)

	session, err := client.Login(context.Background(), "admin@school.test", password)
	require.NoError(t, err)
	assert.Equal(t, "admin", session.User.Role)

	var me model.EntityPayload
	require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, "/auth/me", nil, &me))
	assert.Equal(t, session.User.ID, me.ID)

	rotated, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, rotated.AccessToken)

	require.NoError(t, client.Logout(context.Background()))
	_, err = client.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, expired, "no refresh cookie is a 400, not an ended session")
}

func TestAuditStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "", "admin@school.test")
	session, _ := s.login(t, "admin@school.test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/admin/auditoria/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s.login(t, "admin@school.test")

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "event: auth.login" {
			break
		}
	}
}

func TestAuditStreamRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, call{method: http.MethodGet, path: "/admin/auditoria/stream"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeMissingToken, env.Error.Code)
}
