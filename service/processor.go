package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

const outputPrefix = "no_bg_"

// Mirror copies processed outputs to remote storage and returns a URL for them.
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Processor runs one image through the segmenter.
type Processor struct {
	segmenter Segmenter
	uploads   *FileStore
	outputs   *FileStore
	mirror    Mirror
	cfg       config.ProcessingConfig
}

func NewProcessor(seg Segmenter, uploads, outputs *FileStore, cfg config.ProcessingConfig) *Processor {
	return &Processor{
		segmenter: seg,
		uploads:   uploads,
		outputs:   outputs,
		cfg:       cfg,
	}
}

// WithMirror enables copying outputs to m. A nil m disables mirroring.
func (p *Processor) WithMirror(m Mirror) *Processor {
	p.mirror = m
	return p
}

// Process stores the upload, removes its background and stores the PNG
// result. The upload is deleted again if processing fails.
func (p *Processor) Process(ctx context.Context, job model.UploadJob, settings model.QualitySettings) (*model.ProcessedResult, error) {
	stored, err := p.uploads.Put(SecureName(job.FileName), bytes.NewReader(job.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: save upload: %w", ErrProcessingFailure, err)
	}

	result, err := p.run(ctx, job.FileName, stored, job.Data, settings)
	if err != nil {
		if rmErr := p.uploads.Remove(stored); rmErr != nil {
			logger.Warn(ctx, "failed to remove upload after error", "file", stored, "error", rmErr)
		}
		return nil, err
	}
	return result, nil
}

// Reprocess runs an already stored upload again with new settings.
func (p *Processor) Reprocess(ctx context.Context, storedName string, settings model.QualitySettings) (*model.ProcessedResult, error) {
	data, err := p.uploads.ReadFile(storedName)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, storedName, storedName, data, settings)
}

func (p *Processor) run(ctx context.Context, original, stored string, data []byte, settings model.QualitySettings) (*model.ProcessedResult, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrProcessingFailure, original, err)
	}
	img = p.optimize(img)

	start := time.Now()
	out, err := p.segmenter.Remove(ctx, img, settings)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailure, err)
	}
	if out == nil || out.Bounds().Empty() {
		return nil, fmt.Errorf("%w: segmenter returned no image", ErrProcessingFailure)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encode output: %w", ErrProcessingFailure, err)
	}

	outName := OutputName(stored)
	if _, err := p.outputs.Put(outName, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("%w: save output: %w", ErrProcessingFailure, err)
	}

	result := &model.ProcessedResult{
		OriginalFileName:      original,
		ProcessedFileName:     outName,
		ProcessingTimeSeconds: model.RoundSeconds(elapsed),
		Model:                 settings.Model,
		OriginalImage:         "/uploads/" + stored,
		ProcessedImage:        "/outputs/" + outName,
		DownloadURL:           "/download/" + outName,
	}

	if p.mirror != nil {
		url, err := p.mirror.Upload(ctx, outName, buf.Bytes(), "image/png")
		if err != nil {
			logger.Warn(ctx, "s3 mirror failed", "file", outName, "error", err)
		} else {
			result.S3URL = url
		}
	}

	logger.Debug(ctx, "image processed",
		"file", original,
		"output", outName,
		"model", settings.Model,
		"seconds", result.ProcessingTimeSeconds,
	)
	return result, nil
}

// optimize shrinks large inputs so the longest side fits the configured maximum.
func (p *Processor) optimize(img image.Image) image.Image {
	limit := p.cfg.MaxImageDimension
	if !p.cfg.Optimize() || limit <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= limit && b.Dy() <= limit {
		return img
	}
	slog.Debug("downsizing image", "width", b.Dx(), "height", b.Dy(), "limit", limit)
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}

// OutputName maps a stored upload name onto its PNG output name.
func OutputName(stored string) string {
	return outputPrefix + strings.TrimSuffix(stored, filepath.Ext(stored)) + ".png"
}
