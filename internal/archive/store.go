package archive

import (
	"context"

	"gexflow/internal/models"
	"gexflow/internal/store"
)

// ArchivingStore decorates a Store so every fresh tick write is also queued
// for the cold archive. Dedup no-ops are not re-archived.
type ArchivingStore struct {
	inner  store.Store
	writer *Writer
}

func NewArchivingStore(inner store.Store, w *Writer) *ArchivingStore {
	return &ArchivingStore{inner: inner, writer: w}
}

func (s *ArchivingStore) SaveTick(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	saved, err := s.inner.SaveTick(ctx, rec)
	if err == nil && saved {
		s.writer.Enqueue(rec)
	}
	return saved, err
}

func (s *ArchivingStore) SaveLatest(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	return s.inner.SaveLatest(ctx, rec)
}

func (s *ArchivingStore) Close() {
	s.inner.Close()
}
