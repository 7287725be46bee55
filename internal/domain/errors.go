package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes of a harvest run.
var (
	// ErrNetworkTransient indicates a timeout, transport failure or 5xx that
	// survived every retry.
	ErrNetworkTransient = errors.New("transient network failure")

	// ErrRateLimited indicates the remote service kept answering 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetworkPermanent indicates a non-retryable 4xx response.
	ErrNetworkPermanent = errors.New("permanent network failure")

	// ErrMalformedDocument indicates a response or record that cannot be
	// parsed or is missing required fields.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrStorageConstraint indicates a uniqueness, check or foreign-key
	// violation reported by the store.
	ErrStorageConstraint = errors.New("storage constraint violation")

	// ErrStorage indicates any other store failure.
	ErrStorage = errors.New("storage failure")

	// ErrSearchFailed indicates the search did not yield a usable session.
	ErrSearchFailed = errors.New("search failed")

	// ErrInvalidInput indicates that caller-supplied input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")
)

// NetworkErrorKind classifies the final failure of a request.
type NetworkErrorKind string

const (
	NetworkErrorTimeout     NetworkErrorKind = "timeout"
	NetworkErrorTransport   NetworkErrorKind = "transport"
	NetworkErrorServer      NetworkErrorKind = "server_error"
	NetworkErrorRateLimited NetworkErrorKind = "rate_limited"
	NetworkErrorClient      NetworkErrorKind = "client_error"
)

// NetworkError describes a request that failed after the retry policy gave up.
type NetworkError struct {
	Kind       NetworkErrorKind
	Endpoint   string
	StatusCode int
	Attempts   int
	Cause      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("%s request to %s failed after %d attempt(s)", e.Kind, e.Endpoint, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the failure-class sentinel and the underlying cause.
func (e *NetworkError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func (e *NetworkError) sentinel() error {
	switch e.Kind {
	case NetworkErrorRateLimited:
		return ErrRateLimited
	case NetworkErrorClient:
		return ErrNetworkPermanent
	default:
		return ErrNetworkTransient
	}
}

// NewNetworkError creates a new NetworkError.
func NewNetworkError(kind NetworkErrorKind, endpoint string, statusCode, attempts int, cause error) *NetworkError {
	return &NetworkError{
		Kind:       kind,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Attempts:   attempts,
		Cause:      cause,
	}
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrMalformedDocument for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrMalformedDocument
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StorageError describes a failed write of one paper's record graph.
type StorageError struct {
	PMID       int64
	Op         string
	Code       string
	Constraint string
	Cause      error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s for pmid %d", e.Op, e.PMID)
	if e.Constraint != "" {
		msg += fmt.Sprintf(" violated %s", e.Constraint)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the failure-class sentinel and the underlying cause.
func (e *StorageError) Unwrap() []error {
	sentinel := ErrStorage
	if e.IsConstraintViolation() {
		sentinel = ErrStorageConstraint
	}
	errs := []error{sentinel}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// IsConstraintViolation reports whether Code belongs to SQLSTATE class 23.
func (e *StorageError) IsConstraintViolation() bool {
	return len(e.Code) == 5 && e.Code[:2] == "23"
}

// NewStorageError creates a new StorageError.
func NewStorageError(pmid int64, op, code, constraint string, cause error) *StorageError {
	return &StorageError{
		PMID:       pmid,
		Op:         op,
		Code:       code,
		Constraint: constraint,
		Cause:      cause,
	}
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// FailureClass returns a short stable label for err, used in logs and
// metrics. Unknown errors map to "unknown".
func FailureClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNetworkPermanent):
		return "network_permanent"
	case errors.Is(err, ErrNetworkTransient):
		return "network_transient"
	case errors.Is(err, ErrMalformedDocument):
		return "malformed_document"
	case errors.Is(err, ErrStorageConstraint):
		return "storage_constraint"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrSearchFailed):
		return "search_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}
