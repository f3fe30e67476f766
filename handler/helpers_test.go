package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/service"
)

// fakeSegmenter hands the input back unchanged.
type fakeSegmenter struct {
	mu    sync.Mutex
	calls int
	err   error
	seen  []model.QualitySettings
}

func (f *fakeSegmenter) Remove(_ context.Context, img image.Image, s model.QualitySettings) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, s)
	if f.err != nil {
		return nil, f.err
	}
	return img, nil
}

func (f *fakeSegmenter) lastSettings() model.QualitySettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[len(f.seen)-1]
}

type testServer struct {
	cfg    *config.Config
	svc    *Services
	seg    *fakeSegmenter
	router *gin.Engine
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	uploads, err := service.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	outputs, err := service.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	seg := &fakeSegmenter{}
	validator := service.NewValidator(cfg.Limits)
	processor := service.NewProcessor(seg, uploads, outputs, cfg.Processing)
	coordinator := service.NewCoordinator(processor, service.NewMemoryBatchStore(cfg.Store.MaxBatches), cfg.Processing)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Shutdown(ctx)
	})

	svc := &Services{
		Validator:   validator,
		Expander:    service.NewArchiveExpander(validator),
		Processor:   processor,
		Coordinator: coordinator,
		Uploads:     uploads,
		Outputs:     outputs,
	}

	return &testServer{
		cfg:    cfg,
		svc:    svc,
		seg:    seg,
		router: NewRouter(cfg, svc, nil),
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest("GET", path, nil))
}

// waitForBatch polls the status route until the batch completes.
func (s *testServer) waitForBatch(t *testing.T, batchID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := s.get("/batch-status/" + batchID)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		body := decode(t, w)
		if body["status"] == string(model.StatusCompleted) {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not complete", batchID)
	return nil
}

type formFile struct {
	field string
	name  string
	body  []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(f.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return body
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// corruptPNG sniffs as PNG but cannot be decoded.
func corruptPNG() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xbe, 0xef}, 64)...)
}

func zipOf(t *testing.T, entries map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
