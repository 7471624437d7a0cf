package campaign

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the campaign id is unknown to the store.
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidState means the requested lifecycle move is not legal from
	// the campaign's current status (e.g. executing an already-sent one).
	ErrInvalidState = errors.New("invalid campaign state")

	// ErrInvalidTarget means a target references a bot not owned by the
	// requester or a malformed chat reference. It aborts the whole
	// execution before any send.
	ErrInvalidTarget = errors.New("invalid target")
)

// ValidationError describes structurally bad creation input.
// Index is the offending target index, or -1 when not target-related.
type ValidationError struct {
	Field  string
	Reason string
	Index  int
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
