package store

import (
	"context"
	"fmt"
	"sync"

	"gexflow/internal/models"
)

// Memory is an in-process Store used in tests and when Postgres is disabled.
// It enforces the same dedup-key semantics as the Postgres implementation.
type Memory struct {
	mu     sync.Mutex
	ticks  map[string]models.SnapshotRecord
	latest map[string]models.SnapshotRecord
}

func NewMemory() *Memory {
	return &Memory{
		ticks:  make(map[string]models.SnapshotRecord),
		latest: make(map[string]models.SnapshotRecord),
	}
}

func (m *Memory) SaveTick(_ context.Context, rec models.SnapshotRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.DedupKey()
	if _, exists := m.ticks[key]; exists {
		return false, nil
	}
	m.ticks[key] = rec
	return true, nil
}

func (m *Memory) SaveLatest(_ context.Context, rec models.SnapshotRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s", rec.FeedID, rec.SessionKey, rec.TradingDay)
	_, exists := m.latest[key]
	m.latest[key] = rec
	return !exists, nil
}

func (m *Memory) Close() {}

// TickCount reports how many tick records share the given dedup key; used by
// tests to assert exactly-once persistence.
func (m *Memory) TickCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ticks[key]; ok {
		return 1
	}
	return 0
}

// Ticks returns a snapshot of all stored tick records.
func (m *Memory) Ticks() []models.SnapshotRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SnapshotRecord, 0, len(m.ticks))
	for _, r := range m.ticks {
		out = append(out, r)
	}
	return out
}
