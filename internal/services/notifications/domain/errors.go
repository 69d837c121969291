package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed notification input.
	ErrValidation = errors.New("notification validation failed")
	// ErrForbidden classifies an actor touching a notification it does not own.
	ErrForbidden = errors.New("notification access forbidden")
	// ErrNotFound indicates a notification record was not found.
	ErrNotFound = errors.New("notification not found")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("notification store is not configured")
	// ErrIDGeneratorExhausted indicates a fixed test ID sequence was exhausted.
	ErrIDGeneratorExhausted = errors.New("notification id generator exhausted")
)

// ValidationError reports which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is invalid", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AuthorizationError reports an actor acting on another recipient's record.
type AuthorizationError struct {
	NotificationID string
	ActorID        string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s may not modify notification %s", e.ActorID, e.NotificationID)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

// NotFoundError reports a missing notification id.
type NotFoundError struct {
	NotificationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("notification %s not found", e.NotificationID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
