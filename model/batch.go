package model

import (
	"maps"
	"slices"
	"time"
)

// BatchStatus is the lifecycle state of a batch: pending -> processing -> completed.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
)

// Per-file progress markers.
const (
	FileQueued  = 0
	FileRunning = 50
	FileDone    = 100
	FileFailed  = 0
)

// ProcessedResult describes one successfully processed image.
type ProcessedResult struct {
	OriginalFileName      string  `json:"filename"`
	ProcessedFileName     string  `json:"processed_filename"`
	ProcessingTimeSeconds float64 `json:"processing_time"`
	Model                 string  `json:"ai_model"`
	OriginalImage         string  `json:"original_image"`
	ProcessedImage        string  `json:"processed_image"`
	DownloadURL           string  `json:"download_url"`
	S3URL                 string  `json:"s3_url,omitempty"`
}

// FileError records why a single file in a batch failed.
type FileError struct {
	FileName string `json:"filename"`
	Error    string `json:"error"`
}

// BatchRecord is the progress record of one batch.
//
// ProcessedFiles only grows, Results and Errors are append-only, and
// len(Results)+len(Errors) == ProcessedFiles holds after every mutation.
type BatchRecord struct {
	BatchID            string            `json:"batch_id"`
	Status             BatchStatus       `json:"status"`
	TotalFiles         int               `json:"total_files"`
	ProcessedFiles     int               `json:"processed_files"`
	IndividualProgress map[string]int    `json:"individual_progress"`
	Results            []ProcessedResult `json:"results"`
	Errors             []FileError       `json:"errors"`
	Model              string            `json:"ai_model"`
	StartedAt          time.Time         `json:"started_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	TotalTime          float64           `json:"total_time"`
}

// NewBatchRecord creates a pending record with every file queued.
func NewBatchRecord(batchID string, fileNames []string, modelName string, now time.Time) *BatchRecord {
	progress := make(map[string]int, len(fileNames))
	for _, name := range fileNames {
		progress[name] = FileQueued
	}
	return &BatchRecord{
		BatchID:            batchID,
		Status:             StatusPending,
		TotalFiles:         len(fileNames),
		IndividualProgress: progress,
		Results:            []ProcessedResult{},
		Errors:             []FileError{},
		Model:              modelName,
		StartedAt:          now,
	}
}

// Progress returns 100 * ProcessedFiles / TotalFiles.
func (b *BatchRecord) Progress() float64 {
	if b.TotalFiles == 0 {
		return 0
	}
	return 100 * float64(b.ProcessedFiles) / float64(b.TotalFiles)
}

// Done reports whether the batch reached its terminal state.
func (b *BatchRecord) Done() bool {
	return b.Status == StatusCompleted
}

// MarkStarted flags a file as handed to the segmenter.
func (b *BatchRecord) MarkStarted(fileName string) {
	if b.Done() {
		return
	}
	b.IndividualProgress[fileName] = FileRunning
}

// RecordSuccess appends a result and completes the batch if it was the last file.
func (b *BatchRecord) RecordSuccess(fileName string, result ProcessedResult, now time.Time) {
	if b.Done() {
		return
	}
	b.Results = append(b.Results, result)
	b.IndividualProgress[fileName] = FileDone
	b.finishOne(now)
}

// RecordFailure appends an error and completes the batch if it was the last file.
func (b *BatchRecord) RecordFailure(fileName, errMsg string, now time.Time) {
	if b.Done() {
		return
	}
	b.Errors = append(b.Errors, FileError{FileName: fileName, Error: errMsg})
	b.IndividualProgress[fileName] = FileFailed
	b.finishOne(now)
}

func (b *BatchRecord) finishOne(now time.Time) {
	b.ProcessedFiles++
	if b.ProcessedFiles >= b.TotalFiles {
		b.Status = StatusCompleted
		b.CompletedAt = &now
		b.TotalTime = RoundSeconds(now.Sub(b.StartedAt))
	}
}

// Clone returns a deep copy safe to hand to readers.
func (b *BatchRecord) Clone() *BatchRecord {
	c := *b
	c.IndividualProgress = maps.Clone(b.IndividualProgress)
	c.Results = slices.Clone(b.Results)
	c.Errors = slices.Clone(b.Errors)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	if c.IndividualProgress == nil {
		c.IndividualProgress = map[string]int{}
	}
	if c.Results == nil {
		c.Results = []ProcessedResult{}
	}
	if c.Errors == nil {
		c.Errors = []FileError{}
	}
	return &c
}

// RoundSeconds converts d to seconds rounded to two decimals.
func RoundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond).Milliseconds()) / 1000
}
