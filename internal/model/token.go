package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenOwner references exactly one staff user or one student.
type TokenOwner struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// RefreshToken is the persisted, one-time-use half of a session. Only the
// SHA-256 hash of the opaque value is stored.
type RefreshToken struct {
	ID        string     `json:"id"`
	TokenHash string     `json:"token_hash"`
	Owner     TokenOwner `json:"owner"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AccessClaims is the signed access-token payload. It carries no role; the
// role is read from the store on every request.
type AccessClaims struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Session is what login and refresh hand back to the transport layer.
type Session struct {
	TokenPair
	Principal Principal
}

type SessionResponse struct {
	AccessToken string        `json:"accessToken"`
	User        EntityPayload `json:"user"`
}
