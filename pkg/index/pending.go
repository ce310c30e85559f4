package index

import (
	"context"
	"time"
)

// PendingRecord is a block that could not be indexed, kept for reconciliation.
// Block holds the encoded block as it arrived.
type PendingRecord struct {
	Height uint64
	Block  []byte
	Reason string
	Since  time.Time
}

// PendingStore persists pending blocks outside of any index transaction, so
// they survive a restart. Saving an existing height replaces it.
type PendingStore interface {
	SavePending(ctx context.Context, rec PendingRecord) error
	DeletePending(ctx context.Context, height uint64) error
	// LoadPending returns every pending record in ascending height order.
	LoadPending(ctx context.Context) ([]PendingRecord, error)
}
