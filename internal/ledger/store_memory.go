package ledger

import (
	"context"
	"fmt"
	"sync"

	"veda/internal/artifact"
)

// MemoryStore is the in-process ledger used by unit tests. Records are
// held in append order per chain.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[artifact.ChainKey][]*Record
	nextID int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{chains: make(map[artifact.ChainKey][]*Record)}
}

func (s *MemoryStore) Tip(_ context.Context, key artifact.ChainKey) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[key]
	if len(chain) == 0 {
		return nil, nil
	}
	return cloneRecord(chain[len(chain)-1]), nil
}

func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = fmt.Sprintf("%d", s.nextID)
	key := rec.Key()
	s.chains[key] = append(s.chains[key], cloneRecord(rec))
	return nil
}

func (s *MemoryStore) Chain(_ context.Context, key artifact.ChainKey) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[key]
	out := make([]*Record, len(chain))
	for i, rec := range chain {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

func (s *MemoryStore) CountChain(_ context.Context, key artifact.ChainKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains[key]), nil
}

func (s *MemoryStore) ChainsForPrincipal(_ context.Context, dpID, dfID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for key, chain := range s.chains {
		if key.DPID != dpID || key.DFID != dfID {
			continue
		}
		for _, rec := range chain {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func cloneRecord(rec *Record) *Record {
	cp := *rec
	cp.Artifact = *rec.Artifact.Clone()
	return &cp
}
