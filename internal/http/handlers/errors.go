// Package handlers defines HTTP-layer error codes used across all API
// endpoints. These codes give clients a stable, machine-readable taxonomy
// alongside the human-readable messages; handlers select the most specific
// matching code and pass it to fail() with the corresponding HTTP status.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSendFailed       = "send_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeBadgeFailed      = "badge_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
