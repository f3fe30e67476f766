package service

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// corruptPNG has a valid signature so it passes sniffing but fails to decode.
func corruptPNG() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xde, 0xad}, 64)...)
}

type zipEntry struct {
	name string
	body []byte
}

func zipBytes(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testLimits() config.LimitsConfig {
	return config.Default().Limits
}

func defaultSettings() model.QualitySettings {
	return model.QualitySettings{
		Model:               "u2net",
		ForegroundThreshold: 240,
		BackgroundThreshold: 10,
		ErodeSize:           10,
		BaseSize:            1000,
	}
}

// fakeSegmenter returns its input unchanged and records the settings it saw.
type fakeSegmenter struct {
	mu       sync.Mutex
	calls    int
	settings []model.QualitySettings
	sizes    []image.Point
	err      error
	empty    bool
}

func (f *fakeSegmenter) Remove(_ context.Context, img image.Image, s model.QualitySettings) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.settings = append(f.settings, s)
	f.sizes = append(f.sizes, img.Bounds().Size())
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return img, nil
}

func (f *fakeSegmenter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// processorFunc adapts a function to ImageProcessor.
type processorFunc func(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error)

func (f processorFunc) Process(ctx context.Context, job model.UploadJob, s model.QualitySettings) (*model.ProcessedResult, error) {
	return f(ctx, job, s)
}

func newTestProcessor(t *testing.T, seg Segmenter) (*Processor, *FileStore, *FileStore) {
	t.Helper()
	uploads, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	outputs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewProcessor(seg, uploads, outputs, config.Default().Processing), uploads, outputs
}
