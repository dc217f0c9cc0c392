package scheduler

import (
	"context"
	"sync"
)

// MemoryRenewalStore is the in-memory twin used by tests.
type MemoryRenewalStore struct {
	mu      sync.Mutex
	entries []*RenewalNotification
}

func NewMemoryRenewals() *MemoryRenewalStore {
	return &MemoryRenewalStore{}
}

func (s *MemoryRenewalStore) Insert(_ context.Context, n *RenewalNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.entries = append(s.entries, &cp)
	return nil
}

// All returns every inserted notification.
func (s *MemoryRenewalStore) All() []*RenewalNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RenewalNotification(nil), s.entries...)
}
