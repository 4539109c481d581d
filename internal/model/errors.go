package model

import "errors"

var (
	// Credential store
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrStudentNotFound   = errors.New("student not found")
	ErrStudentExists     = errors.New("student already exists")

	// Sessions
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrOwnerNotFound      = errors.New("token owner not found")

	// Access control
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrInvalidInput = errors.New("invalid input")
)
