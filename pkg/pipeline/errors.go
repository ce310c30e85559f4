package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrHeightGap is returned when a block arrives before its predecessor was handed over.
	ErrHeightGap = errors.New("block height gap")
	// ErrPreviousHashMismatch is returned when a block does not link to the previous one.
	ErrPreviousHashMismatch = errors.New("previous block hash mismatch")
)

// PendingError reports a block that could not be indexed and was set aside.
// The pipeline has moved past it; Reconcile retries it. Saved is false when the
// pending record could not be stored, so the block would not survive a restart.
type PendingError struct {
	Height uint64
	Err    error
	Saved  bool
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("block %d pending: %v", e.Height, e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }
