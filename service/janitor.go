package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EslamTharwaat/remove-image-background/config"
)

// Janitor periodically deletes expired uploads and outputs and, when a
// batch TTL is configured, prunes completed batches from the store.
type Janitor struct {
	cron     *cron.Cron
	dirs     []*FileStore
	store    BatchStore
	maxAge   time.Duration
	batchTTL time.Duration
	now      func() time.Time
}

func NewJanitor(cfg config.CleanupConfig, batchTTL time.Duration, store BatchStore, dirs ...*FileStore) (*Janitor, error) {
	j := &Janitor{
		cron:     cron.New(),
		dirs:     dirs,
		store:    store,
		maxAge:   cfg.FileMaxAge,
		batchTTL: batchTTL,
		now:      time.Now,
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	now := j.now()

	if j.maxAge > 0 {
		for _, d := range j.dirs {
			n, err := d.CleanupOlderThan(j.maxAge, now)
			if err != nil {
				slog.Warn("file cleanup failed", "dir", d.Root, "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired files", "dir", d.Root, "count", n)
			}
		}
	}

	if j.batchTTL > 0 && j.store != nil {
		n, err := j.store.PruneCompleted(ctx, now.Add(-j.batchTTL))
		if err != nil {
			slog.Warn("batch pruning failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("pruned completed batches", "count", n)
		}
	}
}
