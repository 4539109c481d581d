package sessionclient

import "sync"

// User mirrors the password-stripped entity returned by login and refresh.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"type"`
	Role  string `json:"role,omitempty"`
}

// Session is the locally held half of a login. The refresh token never
// appears here; it lives in the cookie jar.
type Session struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// TokenStore holds the current session. Implementations must be safe for
// concurrent use.
type TokenStore interface {
	Load() (Session, bool)
	Save(s Session)
	Clear()
}

type MemoryTokenStore struct {
	mu      sync.RWMutex
	session Session
	ok      bool
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Load() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.ok
}

func (m *MemoryTokenStore) Save(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	m.ok = s.AccessToken != ""
}

func (m *MemoryTokenStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
	m.ok = false
}
