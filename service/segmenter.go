package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/EslamTharwaat/remove-image-background/model"
)

// Segmenter separates the foreground subject from the background.
type Segmenter interface {
	Remove(ctx context.Context, img image.Image, settings model.QualitySettings) (image.Image, error)
}

// RemoteSegmenter calls a rembg-compatible HTTP server.
type RemoteSegmenter struct {
	endpoint string
	client   *http.Client
}

func NewRemoteSegmenter(endpoint string, timeout time.Duration) *RemoteSegmenter {
	return &RemoteSegmenter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *RemoteSegmenter) Remove(ctx context.Context, img image.Image, settings model.QualitySettings) (image.Image, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	fields := map[string]string{
		"model":     settings.Model,
		"a":         strconv.FormatBool(settings.AlphaMatting),
		"af":        strconv.Itoa(settings.ForegroundThreshold),
		"ab":        strconv.Itoa(settings.BackgroundThreshold),
		"ae":        strconv.Itoa(settings.ErodeSize),
		"base_size": strconv.Itoa(settings.BaseSize),
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/remove", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segmenter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("segmenter returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	out, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode segmenter output: %w", err)
	}
	return out, nil
}

// Ping checks that the segmenter answers at all.
func (s *RemoteSegmenter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("segmenter returned status %d", resp.StatusCode)
	}
	return nil
}
