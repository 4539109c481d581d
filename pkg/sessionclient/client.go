// Package sessionclient is a Go client for the school administration API
// that keeps a session alive: it sends the access token as a bearer header,
// refreshes it through the refresh-token cookie when the server reports it
// expired and replays the failed request once.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"school-admin/pkg/apierror"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh-token"
	logoutPath  = "/auth/logout"

	defaultCookieName = "refreshToken"
	maxErrorBody      = 64 << 10
)

// ErrSessionExpired is returned when the refresh token was rejected and the
// local session has been discarded. The caller has to log in again.
var ErrSessionExpired = errors.New("session expired")

// Error is a non-2xx response decoded from the API envelope.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL    *url.URL
	http       *http.Client
	store      TokenStore
	cookieName string
	onExpired  func()
	logger     *slog.Logger
	timeout    time.Duration
	refresh    *refresher
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. A cookie jar is attached
// if it has none, since the refresh token only travels as a cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.store = s }
}

// WithSessionExpired registers the callback run after a refresh is rejected
// with 401, once the local session has been cleared.
func WithSessionExpired(fn func()) Option {
	return func(c *Client) { c.onExpired = fn }
}

func WithCookieName(name string) Option {
	return func(c *Client) { c.cookieName = name }
}

// WithRefreshTimeout bounds the shared refresh call, which outlives the
// context of the request that started it. The default is 30 seconds.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		cookieName: defaultCookieName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	if c.store == nil {
		c.store = NewMemoryTokenStore()
	}
	c.refresh = &refresher{store: c.store, timeout: c.timeout, call: c.callRefresh}

	return c, nil
}

// Session returns the locally held session, if any.
func (c *Client) Session() (Session, bool) {
	return c.store.Load()
}

func (c *Client) Login(ctx context.Context, email string, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Session{}, err
	}

	req, err := c.NewRequest(ctx, http.MethodPost, loginPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var s Session
	if err := c.exchange(req, &s); err != nil {
		return Session{}, err
	}

	c.store.Save(s)
	return s, nil
}

// Refresh rotates the refresh cookie and stores the new access token. It
// shares the in-flight call if one is already running.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	current, _ := c.store.Load()
	if _, err := c.refresh.fresh(ctx, current.AccessToken); err != nil {
		return Session{}, err
	}
	s, _ := c.store.Load()
	return s, nil
}

// Logout revokes the refresh token server-side and always drops the local
// session, even when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.clearSession()

	req, err := c.NewRequest(ctx, http.MethodPost, logoutPath, nil)
	if err != nil {
		return err
	}
	return c.exchange(req, nil)
}

// NewRequest builds a request for a path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	target := c.baseURL.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery
	return http.NewRequestWithContext(ctx, method, target.String(), body)
}

// Do sends req with the current bearer token. A 401 carrying TOKEN_EXPIRED
// triggers one refresh and one replay; any other response, including a
// second 401, is returned as is. The request body is buffered for the replay.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := bufferBody(req); err != nil {
		return nil, err
	}

	token := c.accessToken()
	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}

	expired, err := tokenExpired(resp)
	if err != nil {
		return nil, err
	}
	if !expired {
		return resp, nil
	}
	resp.Body.Close()

	fresh, err := c.refresh.fresh(req.Context(), token)
	if err != nil {
		return nil, err
	}
	return c.send(req, fresh)
}

// DoJSON sends in as the JSON body (when non-nil) and decodes the envelope's
// data into out (when non-nil). Non-2xx responses come back as *Error.
func (c *Client) DoJSON(ctx context.Context, method string, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) accessToken() string {
	s, _ := c.store.Load()
	return s.AccessToken
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
	}

	if token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	} else {
		attempt.Header.Del("Authorization")
	}
	return c.http.Do(attempt)
}

// callRefresh is the single network call behind refresher. A 401 ends the
// session: local state is cleared and the expiry callback runs.
func (c *Client) callRefresh(ctx context.Context) (Session, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, refreshPath, nil)
	if err != nil {
		return Session{}, err
	}

	var s Session
	err = c.exchange(req, &s)

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.logger.Info("refresh token rejected, session cleared", "code", apiErr.Code)
		c.clearSession()
		if c.onExpired != nil {
			c.onExpired()
		}
		return Session{}, fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
	}
	if err != nil {
		return Session{}, err
	}

	c.store.Save(s)
	return s, nil
}

func (c *Client) exchange(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) clearSession() {
	c.store.Clear()
	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:   c.cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

// tokenExpired reports whether resp is the server's "access token expired"
// rejection. Expiry is read from the structured error code. The body is
// restored so the caller can still read it.
func tokenExpired(resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return false, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("read 401 body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	var env envelope
	if json.Unmarshal(data, &env) != nil || env.Error == nil {
		return false, nil
	}
	return env.Error.Code == apierror.CodeTokenExpired, nil
}

func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}
