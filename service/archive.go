package service

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

// ArchiveExpander turns a ZIP upload into upload jobs.
type ArchiveExpander struct {
	validator *Validator
	limits    config.LimitsConfig
}

func NewArchiveExpander(v *Validator) *ArchiveExpander {
	return &ArchiveExpander{validator: v, limits: v.Limits()}
}

// Expand checks every ceiling against the central directory before reading
// any entry, then extracts the images in archive order.
func (e *ArchiveExpander) Expand(data []byte) ([]model.UploadJob, error) {
	if int64(len(data)) > e.limits.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: %d bytes compressed, limit is %d", ErrArchiveTooLarge, len(data), e.limits.MaxArchiveBytes)
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid zip archive: %v", ErrUnsupportedFormat, err)
	}

	if len(r.File) > e.limits.MaxArchiveEntries {
		return nil, fmt.Errorf("%w: %d entries, limit is %d", ErrTooManyEntries, len(r.File), e.limits.MaxArchiveEntries)
	}

	var projected uint64
	images := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		projected += f.UncompressedSize64
		if e.isImageEntry(f) {
			images = append(images, f)
		}
	}
	if projected > uint64(e.limits.MaxUncompressedBytes) {
		return nil, fmt.Errorf("%w: %d bytes uncompressed, limit is %d", ErrArchiveTooLarge, projected, e.limits.MaxUncompressedBytes)
	}
	if len(images) > e.limits.MaxArchiveImages {
		return nil, fmt.Errorf("%w: %d images, limit is %d", ErrArchiveTooLarge, len(images), e.limits.MaxArchiveImages)
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	remaining := e.limits.MaxUncompressedBytes
	jobs := make([]model.UploadJob, 0, len(images))
	for _, f := range images {
		name := path.Base(f.Name)
		if f.UncompressedSize64 > uint64(e.limits.MaxImageBytes) {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, name, f.UncompressedSize64, e.limits.MaxImageBytes)
		}

		body, err := readEntry(f, min(remaining, e.limits.MaxImageBytes))
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		remaining -= int64(len(body))
		jobs = append(jobs, model.NewUploadJob(name, body))
	}

	return jobs, nil
}

// isImageEntry filters out directories, OS metadata and non-image files.
func (e *ArchiveExpander) isImageEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return false
	}
	if strings.HasPrefix(f.Name, "__MACOSX/") {
		return false
	}
	name := path.Base(f.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return e.validator.ValidateArchiveMember(name, 0, nil) == nil
}

// readEntry reads at most limit bytes; headers that understate the real
// size are caught here.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: entry exceeds declared size", ErrArchiveTooLarge)
	}
	return body, nil
}
