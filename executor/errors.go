package executor

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimeout     = errors.New("timeout must be positive")
	ErrInvalidMemoryLimit = errors.New("memory limit must be between 1 and 90 percent")
	ErrShutdown           = errors.New("governor is shut down")
	ErrWorkerStuck        = errors.New("worker did not stop after cancellation")
)

// ValidationError reports a request rejected before any resource was
// acquired.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
