// Package services defines the business logic for conversations, messages,
// notifications, and access scoping. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrApplicationNotFound indicates the application a conversation was
	// requested for does not exist (or the owner has no client record).
	ErrApplicationNotFound = errors.New("application not found")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotificationNotFound indicates that the requested notification does
	// not exist or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrEmptyMessage is returned when a send request contains no content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when message content exceeds the configured
	// maximum length limit.
	ErrTooLong = errors.New("message too long")

	// ErrConflictUnresolved is returned when a create raced with another
	// caller and the winner's row still could not be read back. Surfaced as
	// a hard error rather than retried forever.
	ErrConflictUnresolved = errors.New("create conflict could not be resolved")
)

// SendError wraps a failed message append and carries the drafted content so
// the caller can offer a retry without the user retyping it. The core never
// retries the send on its own.
type SendError struct {
	Draft string
	Err   error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("message send failed: %v", e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *SendError) Unwrap() error { return e.Err }
