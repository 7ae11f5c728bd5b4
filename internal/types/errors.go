package types

import "fmt"

// ValidationError marks bad input to a stage. Never retried.
type ValidationError struct {
	Stage   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Stage, e.Message)
}

// NewValidationError builds a ValidationError for a stage.
func NewValidationError(stage, format string, args ...any) *ValidationError {
	return &ValidationError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// ServiceError is a failed remote call, tagged with the offending service
// name and the raw provider message. Status 0 means a transport-level
// failure (no HTTP response).
type ServiceError struct {
	Service string
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: rate limiting,
// server-side errors, or transport errors.
func (e *ServiceError) Retryable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// MalformedResponseError marks unparseable provider output. Fatal, and kept
// distinct from ServiceError for diagnostics.
type MalformedResponseError struct {
	Service string
	Message string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Service, e.Message)
}
