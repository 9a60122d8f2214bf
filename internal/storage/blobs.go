package storage

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type blobEntry struct {
	data        []byte
	contentType string
	timer       *time.Timer
}

// BlobRegistry hands out short-lived URLs for staged attachments that have not
// been uploaded yet. Every URL is revoked explicitly or after the TTL.
type BlobRegistry struct {
	mu      sync.Mutex
	baseURL string
	ttl     time.Duration
	entries map[string]*blobEntry
}

func NewBlobRegistry(baseURL string, ttl time.Duration) *BlobRegistry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BlobRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		entries: map[string]*blobEntry{},
	}
}

// Register returns the URL of data and an idempotent revoke func.
func (r *BlobRegistry) Register(data []byte, contentType string) (string, func()) {
	id := uuid.New().String()
	entry := &blobEntry{data: data, contentType: contentType}

	r.mu.Lock()
	r.entries[id] = entry
	entry.timer = time.AfterFunc(r.ttl, func() { r.revoke(id) })
	r.mu.Unlock()

	var once sync.Once
	return r.baseURL + "/" + id, func() { once.Do(func() { r.revoke(id) }) }
}

// Get returns the payload behind id while it is live.
func (r *BlobRegistry) Get(id string) ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, "", false
	}
	return e.data, e.contentType, true
}

// Len counts live blob URLs.
func (r *BlobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *BlobRegistry) revoke(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.timer.Stop()
		delete(r.entries, id)
	}
}
