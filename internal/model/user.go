package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleProfesor Role = "profesor"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleProfesor:
		return RoleProfesor, true
	default:
		return "", false
	}
}

// User is a staff account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityPayload is the password-stripped view of an authenticated entity.
type EntityPayload struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Type  EntityType `json:"type"`
	Role  Role       `json:"role,omitempty"`
}

type UserList struct {
	Users []EntityPayload `json:"users"`
}

type StudentList struct {
	Students []Student `json:"students"`
}

type DashboardSummary struct {
	Admins     int `json:"admins"`
	Profesores int `json:"profesores"`
	Students   int `json:"estudiantes"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
