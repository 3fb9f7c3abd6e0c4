package store

import (
	"context"

	"gexflow/internal/models"
)

// Store persists snapshot records idempotently. Both operations return
// saved=false when another attempt with the same dedup key already landed;
// that outcome is a success, never an error.
type Store interface {
	// SaveTick appends to the tick history. First write per dedup key wins.
	SaveTick(ctx context.Context, rec models.SnapshotRecord) (bool, error)
	// SaveLatest upserts the latest-per-key record. saved reports whether
	// this call created the row rather than refreshing it.
	SaveLatest(ctx context.Context, rec models.SnapshotRecord) (bool, error)
	Close()
}
