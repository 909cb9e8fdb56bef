package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a malformed request: bad module number,
	// unknown input method, or a missing required payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrArchiveDisabled indicates document archiving is not configured.
	ErrArchiveDisabled = errors.New("document archive not configured")
)

// IncompletePrerequisiteError is returned when final documents are
// requested before all five modules are completed.
type IncompletePrerequisiteError struct {
	Missing []int
}

func (e *IncompletePrerequisiteError) Error() string {
	return fmt.Sprintf("modules not completed: %v", e.Missing)
}
