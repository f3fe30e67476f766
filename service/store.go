package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

// BatchStore holds batch progress records. Get returns a snapshot the
// caller may keep; Update applies fn to the stored record under the
// store's serialization and returns a snapshot of the result.
type BatchStore interface {
	Create(ctx context.Context, rec *model.BatchRecord) error
	Update(ctx context.Context, id string, fn func(*model.BatchRecord)) (*model.BatchRecord, error)
	Get(ctx context.Context, id string) (*model.BatchRecord, error)
	Delete(ctx context.Context, id string) error
	PruneCompleted(ctx context.Context, before time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// MemoryBatchStore is the in-process BatchStore.
type MemoryBatchStore struct {
	batches    map[string]*model.BatchRecord
	mu         sync.RWMutex
	maxBatches int // 0 = unlimited
}

// NewBatchStore builds the store selected by cfg.Backend.
func NewBatchStore(ctx context.Context, cfg *config.StoreConfig) (BatchStore, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisBatchStore(ctx, cfg)
	case "memory", "":
		return NewMemoryBatchStore(cfg.MaxBatches), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func NewMemoryBatchStore(maxBatches int) *MemoryBatchStore {
	if maxBatches < 0 {
		maxBatches = 0
	}
	slog.Info("batch store initialized", "backend", "memory", "max_batches", maxBatches)
	return &MemoryBatchStore{
		batches:    make(map[string]*model.BatchRecord),
		maxBatches: maxBatches,
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, rec *model.BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[rec.BatchID]; ok {
		return fmt.Errorf("batch %s already exists", rec.BatchID)
	}
	s.batches[rec.BatchID] = rec.Clone()
	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryBatchStore) Update(_ context.Context, id string, fn func(*model.BatchRecord)) (*model.BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	fn(rec)
	return rec.Clone(), nil
}

func (s *MemoryBatchStore) Get(_ context.Context, id string) (*model.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryBatchStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	return nil
}

// PruneCompleted removes completed batches that finished before the cutoff.
func (s *MemoryBatchStore) PruneCompleted(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.batches {
		if rec.Done() && rec.CompletedAt != nil && rec.CompletedAt.Before(before) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed, nil
}

// cleanupIfNeeded evicts the oldest completed batches once the store is
// over maxBatches. Batches still running are never evicted.
// Must be called with lock held
func (s *MemoryBatchStore) cleanupIfNeeded() {
	if s.maxBatches <= 0 || len(s.batches) <= s.maxBatches {
		return
	}

	completed := make([]*model.BatchRecord, 0, len(s.batches))
	for _, b := range s.batches {
		if b.Done() {
			completed = append(completed, b)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].StartedAt.Before(completed[j].StartedAt)
	})

	excess := len(s.batches) - s.maxBatches
	for i := 0; i < excess && i < len(completed); i++ {
		slog.Info("auto-cleaning old batch",
			"batch_id", completed[i].BatchID,
			"started_at", completed[i].StartedAt,
		)
		delete(s.batches, completed[i].BatchID)
	}
}

func (s *MemoryBatchStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches), nil
}
