package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

// ObjectStore keeps attachment bytes under slash-separated paths.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, string, error)
	Delete(ctx context.Context, path string) error
	// URL returns a fetchable URL for an existing object, or an error wrapping common.ErrNotFound.
	URL(ctx context.Context, path string) (string, error)
}

func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", common.ValidationFailed("object path is required")
	}
	c := strings.TrimPrefix(path.Clean("/"+p), "/")
	if c == "" {
		return "", common.ValidationFailed("object path is required")
	}
	return c, nil
}

func notFound(p string) error {
	return fmt.Errorf("object %s: %w", p, common.ErrNotFound)
}

// LocalStore keeps objects on disk under Root and serves them at {BaseURL}/{path}.
type LocalStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

func NewLocalStore(root, baseURL string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

func (s *LocalStore) file(p string) (string, string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return c, filepath.Join(s.root, filepath.FromSlash(c)), nil
}

func (s *LocalStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, full, err := s.file(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}
	s.logger.Debug("storage.local.put", "path", c, "bytes", len(data), "content_type", contentType)
	return nil
}

func (s *LocalStore) Get(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	c, full, err := s.file(p)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", notFound(c)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read object: %w", err)
	}
	return data, constants.MimeTypeForExt(filepath.Ext(c)), nil
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, full, err := s.file(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound(c)
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, full, err := s.file(p)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(full); err != nil || fi.IsDir() {
		return "", notFound(c)
	}
	return s.baseURL + "/" + c, nil
}

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an ObjectStore held in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memObject
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: map[string]memObject{}}
}

func (m *MemoryStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[c] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	c, err := cleanPath(p)
	if err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[c]
	if !ok {
		return nil, "", notFound(c)
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[c]; !ok {
		return notFound(c)
	}
	delete(m.objects, c)
	return nil
}

func (m *MemoryStore) URL(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[c]; !ok {
		return "", notFound(c)
	}
	return m.baseURL + "/" + c, nil
}

// Paths lists stored object paths.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	return out
}
