package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process memory. It backs local development
// and tests; the grant URLs it issues are opaque and not fetchable over
// the network.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IssueReadGrant(_ context.Context, key, filename string) (*Grant, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	notBefore, expiresAt := grantWindow(time.Now())

	tok := make([]byte, 16)
	if _, err := rand.Read(tok); err != nil {
		return nil, fmt.Errorf("mint grant token: %w", err)
	}

	q := make(url.Values)
	q.Set("grant", hex.EncodeToString(tok))
	q.Set("expires", expiresAt.UTC().Format(time.RFC3339))
	if filename != "" {
		q.Set("filename", filename)
	}

	return &Grant{
		URL:       "memory:///" + key + "?" + q.Encode(),
		NotBefore: notBefore,
		ExpiresAt: expiresAt,
	}, nil
}

// Delete removes an object. Test helper for simulating the catalog/store
// consistency anomaly where a row outlives its blob.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
}
