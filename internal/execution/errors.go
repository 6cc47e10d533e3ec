package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a subprocess exceeds its wall-clock budget.
	// The process group has been killed by the time it is returned.
	ErrTimeout = errors.New("execution timed out")
	// ErrEngineUnavailable is returned when the query engine binary cannot be started.
	ErrEngineUnavailable = errors.New("query engine unavailable")
	// ErrMalformedOutput is returned when the query engine prints something
	// that is not a JSON array of rows.
	ErrMalformedOutput = errors.New("malformed engine output")
)

// ExitError reports a subprocess that ran to completion with a nonzero status.
type ExitError struct {
	Engine     string
	Code       int
	Diagnostic string
}

func (e *ExitError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s exited with status %d", e.Engine, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Engine, e.Code, e.Diagnostic)
}
