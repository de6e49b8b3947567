package errors

import "fmt"

// ErrorCode represents a Vellum error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION" // 400: malformed scope or identifiers
	ErrNotFound   ErrorCode = "NOT_FOUND"  // 404: unknown conversation/snapshot/revision
	ErrConflict   ErrorCode = "CONFLICT"   // 409: lost race on snapshot version
	ErrIntegrity  ErrorCode = "INTEGRITY"  // 422: fingerprint or checksum mismatch on read
	ErrStorage    ErrorCode = "STORAGE"    // 502: object-storage backend failure
	ErrInternal   ErrorCode = "INTERNAL"   // 500
)

// HistoryError represents a structured error with code, status, and details.
type HistoryError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *HistoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation creates a 400 error for invalid request parameters.
func NewValidation(msg string) *HistoryError {
	return &HistoryError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an unknown entity.
func NewNotFound(kind, identifier string) *HistoryError {
	return &HistoryError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for a lost optimistic-concurrency race.
// The caller is expected to re-read the latest snapshot and retry.
func NewConflict(conversationID string, attemptedVersion int64) *HistoryError {
	return &HistoryError{
		Code:    ErrConflict,
		Status:  409,
		Message: fmt.Sprintf("snapshot version %d already exists for conversation %s; retry against the new latest", attemptedVersion, conversationID),
		Details: map[string]any{"conversation_id": conversationID, "attempted_version": attemptedVersion},
	}
}

// NewIntegrity creates a 422 error for a fingerprint or checksum mismatch.
// The underlying rows are never mutated as a result; history is unreadable
// at this point but not destroyed.
func NewIntegrity(msg string, details map[string]any) *HistoryError {
	return &HistoryError{
		Code:    ErrIntegrity,
		Status:  422,
		Message: msg,
		Details: details,
	}
}

// NewStorage creates a 502 error for an object-storage backend failure.
func NewStorage(err error) *HistoryError {
	msg := "object storage failure"
	if err != nil {
		msg = fmt.Sprintf("object storage failure: %v", err)
	}
	return &HistoryError{
		Code:    ErrStorage,
		Status:  502,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *HistoryError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &HistoryError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// NewCancelled creates an error for a context-cancelled operation.
func NewCancelled(operation string) *HistoryError {
	return &HistoryError{
		Code:    ErrInternal,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// Is checks if an error is a HistoryError with the given code.
func Is(err error, code ErrorCode) bool {
	if hErr, ok := err.(*HistoryError); ok {
		return hErr.Code == code
	}
	return false
}
