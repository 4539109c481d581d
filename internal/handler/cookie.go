package handler

import (
	"net/http"
	"strings"
	"time"
)

// RefreshCookie describes how the refresh token travels: HttpOnly on path
// "/", Secure and SameSite=Strict in production, SameSite=Lax otherwise.
type RefreshCookie struct {
	Name     string
	TTL      time.Duration
	Secure   bool
	SameSite http.SameSite
}

func NewRefreshCookie(name string, ttl time.Duration, production bool) RefreshCookie {
	c := RefreshCookie{Name: name, TTL: ttl, SameSite: http.SameSiteLaxMode}
	if production {
		c.Secure = true
		c.SameSite = http.SameSiteStrictMode
	}
	return c
}

func (c RefreshCookie) Set(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c RefreshCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Read returns the raw refresh token from the request cookie only.
func (c RefreshCookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	return value, value != ""
}
