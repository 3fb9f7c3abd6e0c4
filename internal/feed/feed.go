package feed

import (
	"context"
	"encoding/json"
	"time"

	"gexflow/internal/models"
)

// Feed is one independently scheduled poll target. Implementations own the
// upstream request shape and the persistence fan-out for their records; the
// Loop owns cadence, backoff, session gating, and day-rollover state.
type Feed interface {
	ID() string

	// SessionScoped reports whether the feed carries a session-scoped key
	// (for example a resolved near expiry) that must be re-anchored at each
	// trading-day rollover.
	SessionScoped() bool

	// ResolveSessionKey determines the feed's session key for the current
	// trading day.
	ResolveSessionKey(ctx context.Context) (string, error)

	// Fetch performs the feed's upstream fetch(es) and returns the payload
	// to persist.
	Fetch(ctx context.Context, sessionKey string) (json.RawMessage, error)

	// Persist writes the record. saved=false means a dedup no-op.
	Persist(ctx context.Context, rec models.SnapshotRecord) (bool, error)

	// SubBucket maps an instant to an intra-minute bucket index; feeds
	// without sub-minute granularity return 0.
	SubBucket(t time.Time) int64
}
