package verification

import (
	"context"
	"sort"
	"sync"
)

// MemoryLogStore is the in-process log store used by unit tests.
type MemoryLogStore struct {
	mu   sync.Mutex
	recs []*LogRecord
}

func NewMemoryLogs() *MemoryLogStore {
	return &MemoryLogStore{}
}

func (s *MemoryLogStore) Insert(_ context.Context, rec *LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *MemoryLogStore) GetByRequestID(_ context.Context, requestID string) (*LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.RequestID == requestID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryLogStore) List(_ context.Context, filter LogFilter) ([]*LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*LogRecord
	for _, rec := range s.recs {
		if rec.DFID != filter.DFID {
			continue
		}
		if filter.Verified != nil && rec.Verified != *filter.Verified {
			continue
		}
		if filter.BulkFileName != "" && rec.BulkFileName != filter.BulkFileName {
			continue
		}
		if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !rec.CreatedAt.Before(filter.To) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryLogStore) Stats(_ context.Context, dfID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats Stats
	for _, rec := range s.recs {
		if rec.DFID != dfID {
			continue
		}
		stats.Total++
		if rec.Verified {
			stats.Valid++
		} else {
			stats.Invalid++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Valid) / float64(stats.Total)
	}
	return &stats, nil
}

// MemoryNotificationStore records queued notifications for tests.
type MemoryNotificationStore struct {
	mu            sync.Mutex
	notifications []*Notification
}

func NewMemoryNotifications() *MemoryNotificationStore {
	return &MemoryNotificationStore{}
}

func (s *MemoryNotificationStore) Insert(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

// All returns everything queued so far.
func (s *MemoryNotificationStore) All() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.notifications...)
}
