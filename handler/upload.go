package handler

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/service"
)

// Services bundles what the HTTP handlers call into.
type Services struct {
	Validator   *service.Validator
	Expander    *service.ArchiveExpander
	Processor   *service.Processor
	Coordinator *service.Coordinator
	Uploads     *service.FileStore
	Outputs     *service.FileStore
}

// readImage validates and loads one directly uploaded image.
func (s *Services) readImage(fh *multipart.FileHeader) (model.UploadJob, error) {
	limit := s.Validator.Limits().MaxImageBytes
	if err := s.Validator.ValidateImage(fh.Filename, fh.Size, nil); err != nil {
		return model.UploadJob{}, err
	}
	data, err := readPart(fh, limit)
	if err != nil {
		return model.UploadJob{}, err
	}
	if len(data) == 0 {
		return model.UploadJob{}, fmt.Errorf("%w: %s is empty", service.ErrUnsupportedFormat, fh.Filename)
	}
	if err := s.Validator.ValidateImage(fh.Filename, int64(len(data)), sniffHead(data)); err != nil {
		return model.UploadJob{}, err
	}
	return model.NewUploadJob(fh.Filename, data), nil
}

// readArchive validates a ZIP upload and expands it into jobs.
func (s *Services) readArchive(fh *multipart.FileHeader) ([]model.UploadJob, error) {
	limit := s.Validator.Limits().MaxArchiveBytes
	if err := s.Validator.ValidateArchive(fh.Filename, fh.Size); err != nil {
		return nil, err
	}
	data, err := readPart(fh, limit)
	if err != nil {
		return nil, err
	}
	jobs, err := s.Expander.Expand(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	return jobs, nil
}

// collectJobs turns a mixed list of images and archives into one batch.
// Any invalid file rejects the whole request.
func (s *Services) collectJobs(files []*multipart.FileHeader) ([]model.UploadJob, error) {
	var jobs []model.UploadJob
	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		if service.IsArchive(fh.Filename) {
			expanded, err := s.readArchive(fh)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, expanded...)
			continue
		}
		job, err := s.readImage(fh)
		if err != nil {
			return nil, fmt.Errorf("invalid file %s: %w", fh.Filename, err)
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil, service.ErrEmptyBatch
	}
	return jobs, nil
}

// decodeImageData accepts plain base64 or a data:image/...;base64, URL and
// names the result after its sniffed type.
func (s *Services) decodeImageData(encoded string) (model.UploadJob, error) {
	if strings.HasPrefix(encoded, "data:image") {
		_, encoded, _ = strings.Cut(encoded, ",")
	}
	encoded = strings.TrimSpace(encoded)

	limit := s.Validator.Limits().MaxImageBytes
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > limit+2 {
		return model.UploadJob{}, fmt.Errorf("%w: image_data exceeds %d bytes", service.ErrTooLarge, limit)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return model.UploadJob{}, fmt.Errorf("%w: invalid image data: %v", service.ErrUnsupportedFormat, err)
	}
	if len(data) == 0 {
		return model.UploadJob{}, fmt.Errorf("%w: image_data is empty", service.ErrUnsupportedFormat)
	}

	name := "api_image" + mimetype.Detect(data).Extension()
	if err := s.Validator.ValidateImage(name, int64(len(data)), sniffHead(data)); err != nil {
		return model.UploadJob{}, err
	}
	return model.NewUploadJob(name, data), nil
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", service.ErrTooLarge, fh.Filename, limit)
	}
	return data, nil
}

func sniffHead(data []byte) []byte {
	if len(data) > 3072 {
		return data[:3072]
	}
	return data
}

// multipartFiles returns the uploads stored under any of keys, in key order.
func multipartFiles(r *http.Request, keys ...string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var files []*multipart.FileHeader
	for _, k := range keys {
		files = append(files, r.MultipartForm.File[k]...)
	}
	return files
}
