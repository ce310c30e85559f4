package index

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeight is returned for a block whose height is below 1.
	ErrInvalidHeight = errors.New("block height must be at least 1")
	// ErrNilCommand is returned for a transaction holding a nil command.
	ErrNilCommand = errors.New("nil command")
)

// InvalidIdentifierError rejects an empty identifier or one containing Delimiter.
type InvalidIdentifierError struct {
	Field      string
	Value      string
	TxPosition int
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("transaction %d: invalid %s %q", e.TxPosition, e.Field, e.Value)
}

// Write operations reported by BackendWriteError.
const (
	OpMarkIndexed   = "mark_indexed"
	OpAccountHeight = "account_height"
	OpAssetPosition = "asset_position"
)

// BackendWriteError is a failed storage write during indexing. The block it
// belongs to must be treated as not indexed.
type BackendWriteError struct {
	Op     string
	Height uint64
	Key    string
	Err    error
}

func (e *BackendWriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("index height %d: %s: %v", e.Height, e.Op, e.Err)
	}
	return fmt.Sprintf("index height %d: %s %s: %v", e.Height, e.Op, e.Key, e.Err)
}

func (e *BackendWriteError) Unwrap() error { return e.Err }
