package errors

import "fmt"

// ErrorCode represents an Attic error code.
type ErrorCode string

const (
	ErrValidation         ErrorCode = "VALIDATION"          // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrIndexInconsistency ErrorCode = "INDEX_INCONSISTENCY" // 409, non-fatal
	ErrIngestion          ErrorCode = "INGESTION"           // 422
	ErrExternalTool       ErrorCode = "EXTERNAL_TOOL"       // 502
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// AtticError represents a structured error with code, status, and details.
type AtticError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *AtticError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation creates a 400 error for a malformed or incomplete write payload.
// Validation errors are raised before any file mutation.
func NewValidation(msg string) *AtticError {
	return &AtticError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an absent domain, project, or path.
func NewNotFound(identifier string) *AtticError {
	return &AtticError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates a 409 error for lock contention on a structured file.
func NewConflict(msg string) *AtticError {
	return &AtticError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewIndexInconsistency creates a non-fatal error describing a derived-index
// entry that disagrees with its source file. Callers log it and re-index the
// affected path rather than failing the operation.
func NewIndexInconsistency(path string, msg string) *AtticError {
	return &AtticError{
		Code:    ErrIndexInconsistency,
		Status:  409,
		Message: msg,
		Details: map[string]any{"path": path},
	}
}

// NewIngestion creates a 422 error for a malformed session record.
// Ingestion errors are counted per batch and never abort the pass.
func NewIngestion(source string, line int, msg string) *AtticError {
	return &AtticError{
		Code:    ErrIngestion,
		Status:  422,
		Message: msg,
		Details: map[string]any{"source": source, "line": line},
	}
}

// NewExternalTool creates a 502 error for a failed summarizer invocation.
// Any cached result remains valid; the call is retried on the next cycle.
func NewExternalTool(err error) *AtticError {
	msg := "external tool failed"
	if err != nil {
		msg = err.Error()
	}
	return &AtticError{
		Code:    ErrExternalTool,
		Status:  502,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AtticError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AtticError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an AtticError with the given code.
func Is(err error, code ErrorCode) bool {
	if aErr, ok := err.(*AtticError); ok {
		return aErr.Code == code
	}
	return false
}
