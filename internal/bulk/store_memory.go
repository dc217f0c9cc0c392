package bulk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryFileStore is the in-memory twin used by tests.
type MemoryFileStore struct {
	mu    sync.Mutex
	files map[string]*FileRecord
}

func NewMemoryFiles() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string]*FileRecord)}
}

func (s *MemoryFileStore) Insert(_ context.Context, rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.files[rec.FileName] = &cp
	return nil
}

func (s *MemoryFileStore) Get(_ context.Context, fileName string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[fileName]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryFileStore) List(_ context.Context, dfID string) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FileRecord
	for _, rec := range s.files {
		if rec.DFID != dfID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryFileStore) MarkProcessing(ctx context.Context, fileName string) error {
	return s.setStatus(fileName, StatusProcessing, 0, "")
}

func (s *MemoryFileStore) MarkCompleted(ctx context.Context, fileName string, rowCount int) error {
	return s.setStatus(fileName, StatusCompleted, rowCount, "")
}

func (s *MemoryFileStore) MarkFailed(ctx context.Context, fileName, detail string) error {
	return s.setStatus(fileName, StatusFailed, 0, detail)
}

func (s *MemoryFileStore) setStatus(fileName, status string, rowCount int, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[fileName]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.RowCount = rowCount
	rec.ErrorDetail = detail
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
