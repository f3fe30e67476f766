package service

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

// ImageProcessor processes one upload. *Processor is the production implementation.
type ImageProcessor interface {
	Process(ctx context.Context, job model.UploadJob, settings model.QualitySettings) (*model.ProcessedResult, error)
}

type msgKind int

const (
	msgStarted msgKind = iota
	msgSucceeded
	msgFailed
)

// progressMsg is what a worker reports to its batch's collector.
type progressMsg struct {
	kind   msgKind
	file   string
	result *model.ProcessedResult
	err    string
}

// Coordinator runs batches in the background. Workers never touch the
// store: each batch has one collector goroutine that applies their
// messages in arrival order.
type Coordinator struct {
	processor  ImageProcessor
	store      BatchStore
	events     EventPublisher
	workers    int
	jobTimeout time.Duration
	now        func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	done   map[string]chan struct{}
	closed bool
}

func NewCoordinator(processor ImageProcessor, store BatchStore, cfg config.ProcessingConfig) *Coordinator {
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		processor:  processor,
		store:      store,
		events:     NopPublisher{},
		workers:    workers,
		jobTimeout: cfg.JobTimeout,
		now:        time.Now,
		baseCtx:    ctx,
		cancel:     cancel,
		done:       make(map[string]chan struct{}),
	}
}

// WithEvents publishes a BatchCompleted event for every finished batch.
func (c *Coordinator) WithEvents(p EventPublisher) *Coordinator {
	if p != nil {
		c.events = p
	}
	return c
}

func (c *Coordinator) Workers() int {
	return c.workers
}

// Submit records a new batch and starts it. It returns as soon as the batch
// is in the processing state; results are observed through Status or Wait.
func (c *Coordinator) Submit(ctx context.Context, jobs []model.UploadJob, settings model.QualitySettings) (string, error) {
	if len(jobs) == 0 {
		return "", ErrEmptyBatch
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrShuttingDown
	}
	c.wg.Add(1)
	c.mu.Unlock()

	id := uuid.NewString()
	jobs = uniqueNames(jobs)
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.FileName
	}

	if err := c.start(ctx, model.NewBatchRecord(id, names, settings.Model, c.now())); err != nil {
		c.wg.Done()
		return "", err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done[id] = done
	c.mu.Unlock()

	logger.Info(ctx, "batch submitted", "batch_id", id, "files", len(jobs), "model", settings.Model)
	go c.run(id, jobs, settings, done)
	return id, nil
}

func (c *Coordinator) start(ctx context.Context, rec *model.BatchRecord) error {
	if err := c.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	_, err := c.store.Update(ctx, rec.BatchID, func(r *model.BatchRecord) {
		r.Status = model.StatusProcessing
	})
	if err != nil {
		return fmt.Errorf("start batch: %w", err)
	}
	return nil
}

func (c *Coordinator) run(id string, jobs []model.UploadJob, settings model.QualitySettings, done chan struct{}) {
	defer c.wg.Done()

	ctx := logger.WithBatch(c.baseCtx, id)
	msgs := make(chan progressMsg, 2*len(jobs))

	go func() {
		var g errgroup.Group
		g.SetLimit(c.workers)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				c.work(ctx, job, settings, msgs)
				return nil
			})
		}
		_ = g.Wait()
		close(msgs)
	}()

	final := c.collect(ctx, id, msgs)

	c.mu.Lock()
	delete(c.done, id)
	c.mu.Unlock()
	close(done)

	if final == nil {
		return
	}
	logger.Info(ctx, "batch completed",
		"succeeded", len(final.Results),
		"failed", len(final.Errors),
		"total_time", final.TotalTime,
	)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.events.PublishBatchCompleted(pubCtx, NewBatchCompleted(final)); err != nil {
		logger.Warn(ctx, "failed to publish batch event", "error", err)
	}
}

// collect is the single writer of the batch record.
func (c *Coordinator) collect(ctx context.Context, id string, msgs <-chan progressMsg) *model.BatchRecord {
	storeCtx := context.WithoutCancel(ctx)
	var last *model.BatchRecord

	for msg := range msgs {
		now := c.now()
		rec, err := c.store.Update(storeCtx, id, func(r *model.BatchRecord) {
			switch msg.kind {
			case msgStarted:
				r.MarkStarted(msg.file)
			case msgSucceeded:
				r.RecordSuccess(msg.file, *msg.result, now)
			case msgFailed:
				r.RecordFailure(msg.file, msg.err, now)
			}
		})
		if err != nil {
			logger.Error(ctx, "failed to update batch", "file", msg.file, "error", err)
			continue
		}
		last = rec
	}
	return last
}

func (c *Coordinator) work(ctx context.Context, job model.UploadJob, settings model.QualitySettings, msgs chan<- progressMsg) {
	msgs <- progressMsg{kind: msgStarted, file: job.FileName}

	result, err := c.processSafely(ctx, job, settings)
	if err == nil && result == nil {
		err = fmt.Errorf("%w: no result", ErrProcessingFailure)
	}
	if err != nil {
		logger.Warn(ctx, "file failed", "file", job.FileName, "error", err)
		msgs <- progressMsg{kind: msgFailed, file: job.FileName, err: err.Error()}
		return
	}
	msgs <- progressMsg{kind: msgSucceeded, file: job.FileName, result: result}
}

// processSafely converts a panic in the processor into an error for that file.
func (c *Coordinator) processSafely(ctx context.Context, job model.UploadJob, settings model.QualitySettings) (result *model.ProcessedResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while processing file",
				"file", job.FileName,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("%w: internal error: %v", ErrProcessingFailure, r)
		}
	}()

	if c.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.jobTimeout)
		defer cancel()
	}
	return c.processor.Process(ctx, job, settings)
}

// Status returns a snapshot of the batch.
func (c *Coordinator) Status(ctx context.Context, id string) (*model.BatchRecord, error) {
	return c.store.Get(ctx, id)
}

// Wait blocks until the batch completes or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, id string) (*model.BatchRecord, error) {
	c.mu.Lock()
	done, ok := c.done[id]
	c.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.store.Get(ctx, id)
	}

	// Not running here: either finished already or owned by another instance.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := c.store.Get(ctx, id)
		if err != nil || rec.Done() {
			return rec, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Shutdown stops accepting batches and waits for running ones. If ctx
// ends first, in-flight segmenter calls are cancelled so the remaining
// files are recorded as errors.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return fmt.Errorf("batches still running: %w", ctx.Err())
	}
}

// uniqueNames renames duplicates to "name (2).ext" so per-file progress
// keys stay distinct.
func uniqueNames(jobs []model.UploadJob) []model.UploadJob {
	seen := make(map[string]int, len(jobs))
	out := make([]model.UploadJob, len(jobs))
	for i, job := range jobs {
		name := job.FileName
		seen[name]++
		if n := seen[name]; n > 1 {
			ext := filepath.Ext(name)
			for {
				candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
				if seen[candidate] == 0 {
					name = candidate
					seen[name]++
					break
				}
				n++
			}
		}
		job.FileName = name
		out[i] = job
	}
	return out
}
