package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("quiz version changed")
	ErrStaleGeneration = errors.New("generation superseded")
	ErrUnauthenticated = errors.New("not logged in")
)

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GenerationFailure is returned by a generation stage that errored or
// answered with an error flag.
type GenerationFailure struct {
	Stage string
	Err   error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// AuthFailure messages are shown to the user verbatim.
type AuthFailure struct {
	Message string
}

func (e *AuthFailure) Error() string { return e.Message }

var (
	ErrUsernameTaken      = &AuthFailure{Message: "Username already exists"}
	ErrInvalidCredentials = &AuthFailure{Message: "Invalid credentials"}
)

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s %w", kind, id, ErrNotFound)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsAuthFailure(err error) bool {
	var a *AuthFailure
	return errors.As(err, &a)
}
