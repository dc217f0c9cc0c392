package artifactstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"veda/internal/artifact"
	dErrors "veda/pkg/domain-errors"
)

// MemoryStore is the in-process Latest-State store used by unit tests.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*artifact.Artifact
}

func NewMemory() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*artifact.Artifact)}
}

func (s *MemoryStore) Get(_ context.Context, key artifact.ChainKey) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.Key() == key {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		return a.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) GetByAgreement(_ context.Context, agreementID string) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.AgreementID == agreementID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Upsert(_ context.Context, key artifact.ChainKey, a *artifact.Artifact, expectedVersion int) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *artifact.Artifact
	for _, existing := range s.byID {
		if existing.Key() == key {
			current = existing
			break
		}
	}

	if expectedVersion == 0 {
		if current != nil {
			return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s already has an artifact", key.String())
		}
		post := a.Clone()
		post.ID = uuid.NewString()
		post.Version = 1
		s.byID[post.ID] = post
		return post.Clone(), nil
	}

	if current == nil {
		return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s has no artifact to update", key.String())
	}
	if current.Version != expectedVersion {
		return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s moved past version %d", key.String(), expectedVersion)
	}
	post := a.Clone()
	post.ID = current.ID
	post.Version = expectedVersion + 1
	s.byID[post.ID] = post
	return post.Clone(), nil
}

func (s *MemoryStore) FindOneAndUpdate(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error) {
	return s.conditionalUpdate(ctx, id, predicate, mutate, true)
}

func (s *MemoryStore) Patch(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error) {
	return s.conditionalUpdate(ctx, id, predicate, mutate, false)
}

func (s *MemoryStore) conditionalUpdate(_ context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact), bumpVersion bool) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	candidate := current.Clone()
	if !predicate(candidate) {
		return nil, nil
	}
	mutate(candidate)
	if bumpVersion {
		candidate.Version++
	}
	s.byID[id] = candidate
	return candidate.Clone(), nil
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, field IdentifierField, value, dfID string) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*artifact.Artifact
	for _, a := range s.byID {
		if a.DataFiduciary.DFID != dfID {
			continue
		}
		var got string
		switch field {
		case ByDPID:
			got = a.DataPrincipal.DPID
		case ByDPSystemID:
			got = a.DataPrincipal.DPSystemID
		case ByEmailHash:
			got = a.DataPrincipal.DPEmailHash
		case ByMobileHash:
			got = a.DataPrincipal.DPMobileHash
		default:
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown identifier field %q", field)
		}
		if got == value {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ScanExpiringConsents(_ context.Context, cutoff time.Time) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*artifact.Artifact
	for _, a := range s.byID {
		if hasExpiringConsent(a, cutoff) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ScanExpiringRetention(_ context.Context, cutoff time.Time) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*artifact.Artifact
	for _, a := range s.byID {
		if hasExpiringRetention(a, cutoff) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) All(_ context.Context) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*artifact.Artifact, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.Clone())
	}
	return out, nil
}

func hasExpiringConsent(a *artifact.Artifact, cutoff time.Time) bool {
	for _, de := range a.ConsentScope.DataElements {
		for _, c := range de.Consents {
			if c.ConsentStatus != artifact.StatusApproved || c.ConsentExpiryPeriod == "" || c.ConsentExpiryNotificationSent {
				continue
			}
			at, err := artifact.ParseTimestamp(c.ConsentExpiryPeriod)
			if err == nil && at.Before(cutoff) {
				return true
			}
		}
	}
	return false
}

func hasExpiringRetention(a *artifact.Artifact, cutoff time.Time) bool {
	for _, de := range a.ConsentScope.DataElements {
		if de.DEStatus != artifact.DEActive || de.DataRetentionPeriod == "" || de.DataRetentionNotificationSent {
			continue
		}
		at, err := artifact.ParseTimestamp(de.DataRetentionPeriod)
		if err == nil && at.Before(cutoff) {
			return true
		}
	}
	return false
}
