package auth

import (
	"errors"
	"fmt"
)

// Errors returned by Service. Messages are safe to show to clients.
var (
	ErrInvalidCredentials        = errors.New("invalid email or password")
	ErrExpiredOrInvalidChallenge = errors.New("verification session expired, please sign in again")
	ErrInvalidCode               = errors.New("invalid verification code")
	ErrAttemptsExhausted         = errors.New("too many invalid codes, please sign in again")
	ErrInvalidOrExpiredCode      = errors.New("invalid or expired code")
	ErrRateLimited               = errors.New("too many requests, please wait before trying again")
	ErrInvalidToken              = errors.New("invalid or expired token")
	ErrForbidden                 = errors.New("forbidden")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
