package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gexflow/config"
	"gexflow/internal/models"
	"gexflow/internal/store"
	"gexflow/internal/upstream"
)

// BreadthFeed polls the advance/decline endpoint. It carries no session
// scoped state and persists append-only tick records.
type BreadthFeed struct {
	cfg    config.BreadthFeedConfig
	client *upstream.Client
	store  store.Store
}

func NewBreadthFeed(cfg config.BreadthFeedConfig, client *upstream.Client, st store.Store) *BreadthFeed {
	return &BreadthFeed{cfg: cfg, client: client, store: st}
}

func (f *BreadthFeed) ID() string { return "breadth" }

func (f *BreadthFeed) SessionScoped() bool { return false }

func (f *BreadthFeed) ResolveSessionKey(context.Context) (string, error) { return "", nil }

func (f *BreadthFeed) Fetch(ctx context.Context, _ string) (json.RawMessage, error) {
	snap, err := f.client.FetchBreadth(ctx, f.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal breadth payload: %w", err)
	}
	return data, nil
}

func (f *BreadthFeed) Persist(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	return f.store.SaveTick(ctx, rec)
}

func (f *BreadthFeed) SubBucket(time.Time) int64 { return 0 }
