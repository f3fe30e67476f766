package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

func newTestCoordinator(p ImageProcessor, workers int) (*Coordinator, *MemoryBatchStore) {
	store := NewMemoryBatchStore(0)
	cfg := config.Default().Processing
	cfg.MaxWorkers = workers
	return NewCoordinator(p, store, cfg), store
}

func okResult(job model.UploadJob, s model.QualitySettings) *model.ProcessedResult {
	return &model.ProcessedResult{
		OriginalFileName:  job.FileName,
		ProcessedFileName: "no_bg_" + job.FileName,
		Model:             s.Model,
	}
}

func waitDone(t *testing.T, c *Coordinator, id string) *model.BatchRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := c.Wait(ctx, id)
	require.NoError(t, err)
	return rec
}

func jobsNamed(names ...string) []model.UploadJob {
	jobs := make([]model.UploadJob, len(names))
	for i, n := range names {
		jobs[i] = model.NewUploadJob(n, []byte(n))
	}
	return jobs
}

func TestCoordinatorThreeValidOneCorrupt(t *testing.T) {
	proc, _, _ := newTestProcessor(t, &fakeSegmenter{})
	c, _ := newTestCoordinator(proc, 4)

	jobs := []model.UploadJob{
		model.NewUploadJob("a.png", pngBytes(t, 4, 4)),
		model.NewUploadJob("b.png", pngBytes(t, 5, 5)),
		model.NewUploadJob("broken.png", corruptPNG()),
		model.NewUploadJob("c.png", pngBytes(t, 6, 6)),
	}
	id, err := c.Submit(context.Background(), jobs, defaultSettings())
	require.NoError(t, err)

	rec := waitDone(t, c, id)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, 4, rec.TotalFiles)
	assert.Equal(t, 4, rec.ProcessedFiles)
	assert.Len(t, rec.Results, 3)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, "broken.png", rec.Errors[0].FileName)
	assert.Equal(t, 100.0, rec.Progress())
	assert.Equal(t, model.FileFailed, rec.IndividualProgress["broken.png"])
	assert.Equal(t, model.FileDone, rec.IndividualProgress["a.png"])

	names := []string{}
	for _, r := range rec.Results {
		names = append(names, r.OriginalFileName)
	}
	assert.ElementsMatch(t, []string{"a.png", "b.png", "c.png"}, names)
}

func TestCoordinatorSubmitReturnsProcessingImmediately(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		<-release
		return okResult(job, s), nil
	}), 2)

	id, err := c.Submit(context.Background(), jobsNamed("a.png", "b.png", "c.png"), defaultSettings())
	require.NoError(t, err)

	rec, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, rec.Status)
	assert.Equal(t, 0, rec.ProcessedFiles)

	close(release)
	assert.Equal(t, 3, waitDone(t, c, id).ProcessedFiles)
}

func TestCoordinatorAccountingInvariantWhilePolling(t *testing.T) {
	var n atomic.Int32
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		time.Sleep(2 * time.Millisecond)
		if n.Add(1)%3 == 0 {
			return nil, fmt.Errorf("%w: synthetic", ErrProcessingFailure)
		}
		return okResult(job, s), nil
	}), 3)

	names := make([]string, 30)
	for i := range names {
		names[i] = fmt.Sprintf("img%02d.png", i)
	}
	id, err := c.Submit(context.Background(), jobsNamed(names...), defaultSettings())
	require.NoError(t, err)

	lastProcessed := 0
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec, err := c.Status(context.Background(), id)
		require.NoError(t, err)

		assert.Equal(t, rec.ProcessedFiles, len(rec.Results)+len(rec.Errors))
		assert.Equal(t, 100*float64(rec.ProcessedFiles)/float64(rec.TotalFiles), rec.Progress())
		assert.GreaterOrEqual(t, rec.ProcessedFiles, lastProcessed, "processed files must not decrease")
		assert.LessOrEqual(t, rec.ProcessedFiles, rec.TotalFiles)
		for name, p := range rec.IndividualProgress {
			assert.Contains(t, []int{model.FileQueued, model.FileRunning, model.FileDone}, p, name)
		}
		lastProcessed = rec.ProcessedFiles

		if rec.Done() {
			assert.Equal(t, 30, rec.ProcessedFiles)
			assert.Len(t, rec.Errors, 10)
			break
		}
		require.True(t, time.Now().Before(deadline), "batch did not complete")
		time.Sleep(time.Millisecond)
	}
}

func TestCoordinatorPollingAfterCompletionIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		return okResult(job, s), nil
	}), 2)

	id, err := c.Submit(context.Background(), jobsNamed("a.png", "b.png"), defaultSettings())
	require.NoError(t, err)
	first := waitDone(t, c, id)

	for i := 0; i < 5; i++ {
		again, err := c.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCoordinatorPanicIsolation(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		if job.FileName == "boom.png" {
			panic("nil map write")
		}
		return okResult(job, s), nil
	}), 2)

	id, err := c.Submit(context.Background(), jobsNamed("a.png", "boom.png", "b.png", "c.png", "d.png"), defaultSettings())
	require.NoError(t, err)

	rec := waitDone(t, c, id)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Len(t, rec.Results, 4)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, "boom.png", rec.Errors[0].FileName)
	assert.Contains(t, rec.Errors[0].Error, "nil map write")
}

func TestCoordinatorNilResultIsFailure(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		return nil, nil
	}), 1)

	id, _ := c.Submit(context.Background(), jobsNamed("a.png"), defaultSettings())
	rec := waitDone(t, c, id)
	assert.Len(t, rec.Errors, 1)
}

func TestCoordinatorBoundedWorkers(t *testing.T) {
	var running, peak atomic.Int32
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return okResult(job, s), nil
	}), 2)

	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("%d.png", i)
	}
	id, _ := c.Submit(context.Background(), jobsNamed(names...), defaultSettings())
	waitDone(t, c, id)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, c.Workers())
}

func TestCoordinatorJobTimeout(t *testing.T) {
	store := NewMemoryBatchStore(0)
	cfg := config.Default().Processing
	cfg.JobTimeout = 20 * time.Millisecond
	c := NewCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		if job.FileName == "slow.png" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okResult(job, s), nil
	}), store, cfg)

	id, _ := c.Submit(context.Background(), jobsNamed("slow.png", "fast.png"), defaultSettings())
	rec := waitDone(t, c, id)
	assert.Len(t, rec.Results, 1)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0].Error, "deadline")
}

func TestCoordinatorRequestContextDoesNotCancelBatch(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return okResult(job, s), nil
	}), 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	id, err := c.Submit(reqCtx, jobsNamed("a.png"), defaultSettings())
	require.NoError(t, err)
	cancel()
	close(release)

	rec := waitDone(t, c, id)
	assert.Len(t, rec.Results, 1)
}

func TestCoordinatorDuplicateNames(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		return okResult(job, s), nil
	}), 2)

	id, _ := c.Submit(context.Background(), jobsNamed("a.png", "a.png", "a.png"), defaultSettings())
	rec := waitDone(t, c, id)

	assert.Len(t, rec.IndividualProgress, 3)
	assert.Contains(t, rec.IndividualProgress, "a (2).png")
	assert.Contains(t, rec.IndividualProgress, "a (3).png")
}

func TestUniqueNames(t *testing.T) {
	out := uniqueNames(jobsNamed("a.png", "a (2).png", "a.png", "b", "b"))
	got := make([]string, len(out))
	for i, j := range out {
		got[i] = j.FileName
	}
	assert.Equal(t, []string{"a.png", "a (2).png", "a (3).png", "b", "b (2)"}, got)
}

func TestCoordinatorEmptyBatch(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(nil), 1)
	_, err := c.Submit(context.Background(), nil, defaultSettings())
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestCoordinatorUnknownBatch(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(nil), 1)

	_, err := c.Status(context.Background(), "unknown-id")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = c.Wait(context.Background(), "unknown-id")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestCoordinatorShutdown(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		<-release
		return okResult(job, s), nil
	}), 1)

	id, err := c.Submit(context.Background(), jobsNamed("a.png"), defaultSettings())
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, c.Shutdown(context.Background()))

	rec, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.Done())

	_, err = c.Submit(context.Background(), jobsNamed("b.png"), defaultSettings())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestCoordinatorShutdownTimeoutCancelsWork(t *testing.T) {
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 1)

	id, err := c.Submit(context.Background(), jobsNamed("a.png", "b.png"), defaultSettings())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	rec := waitDone(t, c, id)
	assert.Len(t, rec.Errors, 2)
	for _, e := range rec.Errors {
		assert.True(t, strings.Contains(e.Error, "canceled"), e.Error)
	}
}

type recordingPublisher struct {
	events chan *BatchCompleted
}

func (r *recordingPublisher) PublishBatchCompleted(_ context.Context, ev *BatchCompleted) error {
	r.events <- ev
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestCoordinatorPublishesCompletion(t *testing.T) {
	pub := &recordingPublisher{events: make(chan *BatchCompleted, 1)}
	c, _ := newTestCoordinator(processorFunc(func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
		if job.FileName == "bad.png" {
			return nil, ErrProcessingFailure
		}
		return okResult(job, s), nil
	}), 2)
	c.WithEvents(pub)

	id, _ := c.Submit(context.Background(), jobsNamed("a.png", "bad.png"), defaultSettings())

	select {
	case ev := <-pub.events:
		assert.Equal(t, id, ev.BatchID)
		assert.Equal(t, 2, ev.TotalFiles)
		assert.Equal(t, 1, ev.Succeeded)
		assert.Equal(t, 1, ev.Failed)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
}
