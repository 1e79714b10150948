package models

import (
	"fmt"
	"strings"
)

// DataInconsistencyError reports a cell with a positive observed count but
// zero total incoming connection weight. The EM update would divide by zero
// for such a cell, so the affected run is aborted rather than coerced.
type DataInconsistencyError struct {
	Cell  int
	Count float64
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency: cell %d has observed count %g but zero incoming weight", e.Cell, e.Count)
}

// ValidationError represents a single input validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors accumulates validation failures so callers see all
// problems in one pass instead of fixing them one at a time
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// HasErrors reports whether any failure was recorded
func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }
