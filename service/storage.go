package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
)

// FileStore keeps uploads or outputs in one flat directory.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	return &FileStore{Root: root}, nil
}

// SecureName derives a collision-free stored name that keeps only the
// extension of the client-supplied name.
func SecureName(original string) string {
	ext := Extension(original)
	if ext == "" {
		return ksuid.New().String()
	}
	return ksuid.New().String() + "." + ext
}

func (s *FileStore) Put(name string, r io.Reader) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	abs := filepath.Join(s.Root, name)
	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(abs)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, f.Close()
}

// Path resolves name inside the store, or ErrFileNotFound.
func (s *FileStore) Path(name string) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	abs := filepath.Join(s.Root, name)
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return abs, nil
}

func (s *FileStore) Open(name string) (*os.File, error) {
	abs, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (s *FileStore) ReadFile(name string) ([]byte, error) {
	abs, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (s *FileStore) Exists(name string) bool {
	_, err := s.Path(name)
	return err == nil
}

func (s *FileStore) Remove(name string) error {
	abs, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}

// CleanupOlderThan removes regular files last modified before now-maxAge
// and returns how many were deleted.
func (s *FileStore) CleanupOlderThan(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", s.Root, err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Root, e.Name())); err != nil {
			slog.Warn("failed to remove expired file", "dir", s.Root, "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
