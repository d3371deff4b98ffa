package ghost

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for Admin API operations.
var (
	// ErrInvalidAdminKey indicates the admin key is not "<id>:<hex secret>".
	ErrInvalidAdminKey = errors.New("invalid admin key")

	// ErrUnauthorized indicates the token was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the key lacks permission for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the article or endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the article changed since it was read.
	ErrConflict = errors.New("update collision")

	// ErrValidation indicates Ghost rejected the request body.
	ErrValidation = errors.New("validation failed")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates Ghost could not be reached or failed.
	ErrUnavailable = errors.New("ghost unavailable")
)

// APIError wraps an Admin API failure with context.
type APIError struct {
	// Op is the operation that failed (e.g., "Browse", "Edit").
	Op string

	// Resource is the collection, if applicable.
	Resource Resource

	// ID is the article id, if applicable.
	ID string

	// Status is the HTTP status code, zero for transport failures.
	Status int

	// Type is Ghost's error type (e.g., "UnauthorizedError").
	Type string

	// Message is Ghost's message or the transport error text.
	Message string

	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	target := string(e.Resource)
	if e.ID != "" {
		target += "/" + e.ID
	}
	msg := e.Message
	if msg == "" {
		msg = e.Err.Error()
	} else {
		msg = e.Err.Error() + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if target != "" {
		return fmt.Sprintf("ghost %s %s: %s", e.Op, target, msg)
	}
	return fmt.Sprintf("ghost %s: %s", e.Op, msg)
}

// Unwrap returns the sentinel error for errors.Is support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// sentinelForStatus classifies an HTTP status, and Ghost's error type when
// the status alone is ambiguous.
func sentinelForStatus(status int, errType string) error {
	switch errType {
	case "UpdateCollisionError":
		return ErrConflict
	case "TooManyRequestsError":
		return ErrThrottled
	}

	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	default:
		return ErrUnavailable
	}
}

// IsUnauthorized returns true if the error indicates the token was rejected.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the error indicates a missing article.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates an update collision.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsThrottled returns true if the error indicates rate limiting.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if Ghost could not be reached or failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
