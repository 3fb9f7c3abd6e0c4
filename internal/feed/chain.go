package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gexflow/config"
	"gexflow/internal/levels"
	"gexflow/internal/market"
	"gexflow/internal/models"
	"gexflow/internal/store"
	"gexflow/internal/upstream"
)

// ChainFeed polls the option-chain exposure endpoint for one underlying,
// derives named price levels from the snapshot, and persists both a tick
// record and a latest-per-day record.
type ChainFeed struct {
	cfg    config.ChainFeedConfig
	client *upstream.Client
	store  store.Store
	clock  *market.Clock
}

// chainPayload is what a chain record persists: the raw snapshot plus the
// levels derived from it.
type chainPayload struct {
	Chain  *models.ChainSnapshot `json:"chain"`
	Levels []models.Level        `json:"levels"`
}

func NewChainFeed(cfg config.ChainFeedConfig, client *upstream.Client, st store.Store, clock *market.Clock) *ChainFeed {
	return &ChainFeed{cfg: cfg, client: client, store: st, clock: clock}
}

func (f *ChainFeed) ID() string {
	return "chain_" + strings.ToLower(f.cfg.Symbol)
}

func (f *ChainFeed) SessionScoped() bool { return true }

// ResolveSessionKey picks the nearest expiry on or after the current trading
// day. A configured override short-circuits the upstream call.
func (f *ChainFeed) ResolveSessionKey(ctx context.Context) (string, error) {
	if f.cfg.ExpiryOverride != "" {
		return f.cfg.ExpiryOverride, nil
	}

	expirations, err := f.client.FetchExpirations(ctx, f.cfg.Symbol, f.cfg.MaxAttempts)
	if err != nil {
		return "", fmt.Errorf("fetch expirations: %w", err)
	}

	today := f.clock.TradingDay(f.clock.Now())
	for _, e := range expirations {
		if e >= today {
			return e, nil
		}
	}
	return "", fmt.Errorf("no expiry on or after %s", today)
}

func (f *ChainFeed) Fetch(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	snap, err := f.client.FetchChain(ctx, f.cfg.Symbol, sessionKey, f.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	payload := chainPayload{
		Chain:  snap,
		Levels: levels.Select(snap.Rows),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chain payload: %w", err)
	}
	return data, nil
}

// Persist writes the append-only tick record and refreshes the latest-per-day
// record. The tick write's saved flag is the one reported: it tells retried
// callers whether this bucket was fresh.
func (f *ChainFeed) Persist(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	saved, err := f.store.SaveTick(ctx, rec)
	if err != nil {
		return false, err
	}
	if _, err := f.store.SaveLatest(ctx, rec); err != nil {
		return saved, err
	}
	return saved, nil
}

// SubBucket splits the minute into fixed windows when sub-minute sampling is
// configured.
func (f *ChainFeed) SubBucket(t time.Time) int64 {
	if f.cfg.SubBucketSeconds <= 0 {
		return 0
	}
	return int64(t.Second() / f.cfg.SubBucketSeconds)
}
