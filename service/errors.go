package service

import (
	"errors"
	"fmt"

	"github.com/EslamTharwaat/remove-image-background/model"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file too large")
	ErrInvalidFileName   = errors.New("invalid file name")
	ErrArchiveTooLarge   = errors.New("archive too large")
	ErrTooManyEntries    = fmt.Errorf("%w: too many entries", ErrArchiveTooLarge)
	ErrNoImages          = errors.New("archive contains no supported images")
	ErrInvalidSettings   = model.ErrInvalidSettings
	ErrProcessingFailure = errors.New("processing failed")
	ErrBatchNotFound     = errors.New("batch not found")
	ErrEmptyBatch        = errors.New("batch has no files")
	ErrFileNotFound      = errors.New("file not found")
	ErrShuttingDown      = errors.New("coordinator is shutting down")
)
