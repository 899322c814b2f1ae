package audits

import "errors"

var (
	// ErrNotFound means the job id is not visible to the caller's tenant.
	ErrNotFound = errors.New("audit job not found")

	// ErrInvalidState means the operation is not allowed in the job's
	// current lifecycle state (download before completion, delete while
	// processing).
	ErrInvalidState = errors.New("audit job in invalid state")

	// ErrExpired means the retention window has passed and the report can
	// no longer be downloaded.
	ErrExpired = errors.New("audit report expired")

	// ErrUpstream means the AI provider call failed or returned a response
	// that does not match the expected schema.
	ErrUpstream = errors.New("ai scoring failed")
)

// ValidationError rejects a submit before any job row is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
