package repositories

import "fmt"

// Error is a plain RepositoryError implementation used by in-memory
// repositories and as a fallback where no store-specific wrapper applies.
type Error struct {
	Op          string
	Message     string
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports whether the error represents a transient outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError constructs a not-found repository error.
func NewNotFoundError(op, message string) *Error {
	return &Error{Op: op, Message: message, NotFound: true}
}

// NewConflictError constructs a conflict repository error.
func NewConflictError(op, message string) *Error {
	return &Error{Op: op, Message: message, Conflict: true}
}
