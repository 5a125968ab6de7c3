package errors

import "fmt"

// ErrorCode represents a Refill error code.
type ErrorCode string

const (
	ErrSessionNotFound  ErrorCode = "SESSION_NOT_FOUND" // 404
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrPeerUnreachable  ErrorCode = "PEER_UNREACHABLE"  // 502
	ErrUniqueConstraint ErrorCode = "UNIQUE_CONSTRAINT" // 409
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// EngineError represents a structured error with code, status, and details.
type EngineError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSessionNotFound creates a 404 error for a session id absent from the store.
// Callers recover from this locally; it is surfaced as "not saved" rather
// than failing the request.
func NewSessionNotFound(pageKey string, sessionID int64) *EngineError {
	return &EngineError{
		Code:    ErrSessionNotFound,
		Status:  404,
		Message: fmt.Sprintf("session %d not found for page %q", sessionID, pageKey),
		Details: map[string]any{"page_key": pageKey, "session_id": sessionID},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters or an
// unrecognized event/query type.
func NewInvalidRequest(msg string) *EngineError {
	return &EngineError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewPeerUnreachable creates a 502 error for a browsing context with no live
// page-context connection.
func NewPeerUnreachable(contextID string) *EngineError {
	return &EngineError{
		Code:    ErrPeerUnreachable,
		Status:  502,
		Message: fmt.Sprintf("no page-context peer connected for context %q", contextID),
		Details: map[string]any{"context_id": contextID},
	}
}

// NewUniqueConstraint creates a 409 error for a storage uniqueness violation.
func NewUniqueConstraint(msg string) *EngineError {
	return &EngineError{
		Code:    ErrUniqueConstraint,
		Status:  409,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EngineError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EngineError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an EngineError with the given code.
func Is(err error, code ErrorCode) bool {
	if eErr, ok := err.(*EngineError); ok {
		return eErr.Code == code
	}
	return false
}
