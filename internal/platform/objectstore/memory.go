package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	dErrors "veda/pkg/domain-errors"
)

// MemoryStore is the in-memory twin used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.buckets[bucket][key]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (s *MemoryStore) Put(_ context.Context, bucket, key, _ string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "read object body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string][]byte)
	}
	s.buckets[bucket][key] = data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

// Object returns the stored bytes for inspection in tests.
func (s *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
