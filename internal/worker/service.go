// Package worker is the event-driven consent processor: it ingests
// submissions, expiries and verification marks, serializes writers per
// chain, maintains the Latest-State projection and the audit ledger, and
// fans out domain events.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	"veda/internal/chainlock"
	"veda/internal/events"
	"veda/internal/ledger"
	dErrors "veda/pkg/domain-errors"
)

var (
	submissionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veda_consent_submissions_total",
		Help: "Consent submissions processed, by operation",
	}, []string{"operation"})
	expiriesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veda_consent_expiries_applied_total",
		Help: "Expiry transitions applied, by kind",
	}, []string{"kind"})
	expiriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veda_consent_expiries_dropped_total",
		Help: "Expiry messages dropped as stale or early, by reason",
	}, []string{"reason"})
)

// Service composes the chain lock, the Latest-State store, the ledger
// and the event bus. One Service instance handles one message at a time
// end-to-end; parallelism is across messages.
type Service struct {
	locks  chainlock.Registry
	latest artifactstore.Store
	audit  ledger.Store
	signer *ledger.Signer
	bus    events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

func NewService(locks chainlock.Registry, latest artifactstore.Store, audit ledger.Store, signer *ledger.Signer, bus events.Publisher, log *slog.Logger) *Service {
	return &Service{
		locks:  locks,
		latest: latest,
		audit:  audit,
		signer: signer,
		bus:    bus,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit applies a full consent artifact: insert on first sight, a
// version-guarded update otherwise. Events are diffed from the previous
// state and emitted only after the lock is released.
func (s *Service) Submit(ctx context.Context, incoming *artifact.Artifact, timestamp string) error {
	if err := incoming.Validate(); err != nil {
		return err
	}
	if timestamp == "" {
		timestamp = incoming.Timestamp
	}
	if timestamp == "" {
		timestamp = artifact.FormatTimestamp(s.now())
	}
	canonicalTS, err := artifact.CanonicalTimestamp(timestamp)
	if err != nil {
		return err
	}

	key := incoming.Key()
	holder, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	post, granted, withdrawn, err := s.submitLocked(ctx, key, incoming, canonicalTS)
	s.release(ctx, key, holder)
	if err != nil {
		return err
	}

	return s.emitConsentEvents(ctx, post, granted, withdrawn)
}

func (s *Service) submitLocked(ctx context.Context, key artifact.ChainKey, incoming *artifact.Artifact, canonicalTS string) (*artifact.Artifact, []artifact.FlattenedPurpose, []artifact.FlattenedPurpose, error) {
	existing, err := s.latest.Get(ctx, key)
	if err != nil {
		return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeStorage, "load latest state")
	}

	merged := artifact.Merge(existing, incoming, canonicalTS)
	operation := artifact.OpInsert
	expectedVersion := 0
	var oldScope []artifact.DataElementEntry
	if existing != nil {
		operation = artifact.OpUpdate
		expectedVersion = existing.Version
		oldScope = existing.ConsentScope.DataElements
	}

	post, err := s.latest.Upsert(ctx, key, merged, expectedVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	granted, withdrawn := artifact.DiffStatuses(oldScope, post.ConsentScope.DataElements)

	if err := s.appendAudit(ctx, post, operation); err != nil {
		return nil, nil, nil, err
	}
	submissionsProcessed.WithLabelValues(operation).Inc()
	return post, granted, withdrawn, nil
}

// ConsentExpiry transitions one (data element, purpose) from approved to
// expired, guarded against early fires and stale redeliveries.
func (s *Service) ConsentExpiry(ctx context.Context, artifactID, deID, purposeID, expiryAt string) error {
	a, err := s.latest.GetByID(ctx, artifactID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "load artifact")
	}
	if a == nil {
		return dErrors.Newf(dErrors.CodeNotFound, "artifact %s not found", artifactID)
	}

	// early-fire guard: the stored expiry governs, not the message's
	if de := a.DataElement(deID); de != nil {
		if c := de.Consent(purposeID); c != nil && c.ConsentExpiryPeriod != "" {
			stored, err := artifact.ParseTimestamp(c.ConsentExpiryPeriod)
			if err == nil && s.now().Before(stored) {
				expiriesDropped.WithLabelValues("early_fire").Inc()
				s.log.Warn("consent expiry delivered early, dropping",
					"artifact_id", artifactID, "de_id", deID, "purpose_id", purposeID, "expiry_at", c.ConsentExpiryPeriod)
				return nil
			}
		}
	}

	key := a.Key()
	holder, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	post, err := s.expireConsentLocked(ctx, artifactID, deID, purposeID, expiryAt)
	s.release(ctx, key, holder)
	if err != nil {
		return err
	}
	if post == nil {
		expiriesDropped.WithLabelValues("stale").Inc()
		return nil
	}

	var expired []artifact.FlattenedPurpose
	for _, fp := range artifact.FlattenPurposes(post.ConsentScope.DataElements) {
		if fp.DEID == deID && fp.PurposeID == purposeID {
			expired = append(expired, fp)
		}
	}
	return s.bus.Publish(ctx, &events.Event{
		DPID:      post.DataPrincipal.DPID,
		DFID:      post.DataFiduciary.DFID,
		CPName:    post.CPName,
		EventType: events.ConsentExpired,
		Timestamp: post.Timestamp,
		Purposes:  expired,
	})
}

func (s *Service) expireConsentLocked(ctx context.Context, artifactID, deID, purposeID, expiryAt string) (*artifact.Artifact, error) {
	nowTS := artifact.FormatTimestamp(s.now())
	post, err := s.latest.FindOneAndUpdate(ctx, artifactID,
		func(a *artifact.Artifact) bool {
			de := a.DataElement(deID)
			if de == nil {
				return false
			}
			c := de.Consent(purposeID)
			return c != nil &&
				c.ConsentStatus == artifact.StatusApproved &&
				c.ConsentExpiryPeriod == expiryAt &&
				c.ConsentExpiryNotificationSent
		},
		func(a *artifact.Artifact) {
			a.DataElement(deID).Consent(purposeID).ConsentStatus = artifact.StatusExpired
			a.Timestamp = nowTS
		},
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "expire consent")
	}
	if post == nil {
		return nil, nil
	}
	if err := s.appendAudit(ctx, post, artifact.OpConsentExpired); err != nil {
		return nil, err
	}
	expiriesApplied.WithLabelValues("consent").Inc()
	return post, nil
}

// RetentionExpiry deactivates one data element when its retention period
// has elapsed. Manual erasure skips the elapsed check and the sampled
// retention match.
func (s *Service) RetentionExpiry(ctx context.Context, artifactID, deID, retentionAt string, manual bool) error {
	a, err := s.latest.GetByID(ctx, artifactID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "load artifact")
	}
	if a == nil {
		return dErrors.Newf(dErrors.CodeNotFound, "artifact %s not found", artifactID)
	}

	if !manual && retentionAt != "" {
		due, err := artifact.ParseTimestamp(retentionAt)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "bad retention_expiry_at")
		}
		if s.now().Before(due) {
			expiriesDropped.WithLabelValues("early_fire").Inc()
			s.log.Warn("retention expiry delivered early, dropping",
				"artifact_id", artifactID, "de_id", deID, "retention_expiry_at", retentionAt)
			return nil
		}
	}

	operation := artifact.OpDataErasureRetention
	eventType := events.DataErasureRetention
	if manual {
		operation = artifact.OpDataErasureManual
		eventType = events.DataErasureManual
	}

	key := a.Key()
	holder, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	post, err := s.eraseElementLocked(ctx, artifactID, deID, retentionAt, manual, operation)
	s.release(ctx, key, holder)
	if err != nil {
		return err
	}
	if post == nil {
		expiriesDropped.WithLabelValues("stale").Inc()
		return nil
	}

	var affected []artifact.DataElementEntry
	if de := post.DataElement(deID); de != nil {
		affected = append(affected, *de)
	}
	return s.bus.Publish(ctx, &events.Event{
		DPID:         post.DataPrincipal.DPID,
		DFID:         post.DataFiduciary.DFID,
		CPName:       post.CPName,
		EventType:    eventType,
		Timestamp:    post.Timestamp,
		DataElements: affected,
	})
}

func (s *Service) eraseElementLocked(ctx context.Context, artifactID, deID, retentionAt string, manual bool, operation string) (*artifact.Artifact, error) {
	nowTS := artifact.FormatTimestamp(s.now())
	post, err := s.latest.FindOneAndUpdate(ctx, artifactID,
		func(a *artifact.Artifact) bool {
			de := a.DataElement(deID)
			if de == nil || de.DEStatus != artifact.DEActive {
				return false
			}
			if !manual && de.DataRetentionPeriod != retentionAt {
				// sampled retention moved, a newer submit re-armed it
				return false
			}
			return true
		},
		func(a *artifact.Artifact) {
			de := a.DataElement(deID)
			de.DEStatus = artifact.DEInactive
			de.DataRetentionNotificationSent = true
			a.Timestamp = nowTS
		},
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "erase data element")
	}
	if post == nil {
		return nil, nil
	}
	if err := s.appendAudit(ctx, post, operation); err != nil {
		return nil, err
	}
	expiriesApplied.WithLabelValues("retention").Inc()
	return post, nil
}

// OTPVerified marks the data principal verified. Idempotent; emits no
// domain event.
func (s *Service) OTPVerified(ctx context.Context, artifactID string) error {
	a, err := s.latest.GetByID(ctx, artifactID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "load artifact")
	}
	if a == nil {
		return dErrors.Newf(dErrors.CodeNotFound, "artifact %s not found", artifactID)
	}
	if a.DataPrincipal.DPVerification {
		return nil
	}

	key := a.Key()
	holder, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer s.release(ctx, key, holder)

	nowTS := artifact.FormatTimestamp(s.now())
	post, err := s.latest.FindOneAndUpdate(ctx, artifactID,
		func(a *artifact.Artifact) bool { return !a.DataPrincipal.DPVerification },
		func(a *artifact.Artifact) {
			a.DataPrincipal.DPVerification = true
			a.Timestamp = nowTS
		},
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "mark otp verified")
	}
	if post == nil {
		return nil
	}
	return s.appendAudit(ctx, post, artifact.OpOTPVerified)
}

func (s *Service) appendAudit(ctx context.Context, post *artifact.Artifact, operation string) error {
	snapshot := post.Clone()
	snapshot.Operation = operation
	rec := ledger.NewRecord(snapshot)

	prev, err := s.audit.Tip(ctx, snapshot.Key())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "read chain tip")
	}
	if err := rec.Secure(prev, s.signer); err != nil {
		return err
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "append audit record")
	}
	return nil
}

func (s *Service) emitConsentEvents(ctx context.Context, post *artifact.Artifact, granted, withdrawn []artifact.FlattenedPurpose) error {
	base := events.Event{
		DPID:      post.DataPrincipal.DPID,
		DFID:      post.DataFiduciary.DFID,
		CPName:    post.CPName,
		Timestamp: post.Timestamp,
	}
	if len(granted) > 0 {
		ev := base
		ev.EventType = events.ConsentGranted
		ev.Purposes = granted
		if err := s.bus.Publish(ctx, &ev); err != nil {
			return err
		}
	}
	if len(withdrawn) > 0 {
		ev := base
		ev.EventType = events.ConsentWithdrawn
		ev.Purposes = withdrawn
		if err := s.bus.Publish(ctx, &ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) release(ctx context.Context, key artifact.ChainKey, holder string) {
	if err := s.locks.Release(ctx, key, holder); err != nil {
		s.log.Error("release chain lock failed", "chain", key.String(), "error", err)
	}
}

// RecoveryScan compares every Latest-State version against its chain
// tip. A Latest-State ahead of its chain means a crash landed between
// the state write and the ledger append; startup must abort so an
// operator can reconcile.
func (s *Service) RecoveryScan(ctx context.Context) error {
	all, err := s.latest.All(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "recovery scan: list artifacts")
	}
	for _, a := range all {
		tip, err := s.audit.Tip(ctx, a.Key())
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorage, "recovery scan: read chain tip")
		}
		tipVersion := 0
		if tip != nil {
			tipVersion = tip.Version()
		}
		if a.Version > tipVersion {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"chain %s: latest state version %d ahead of ledger tip %d, manual reconciliation required",
				a.Key().String(), a.Version, tipVersion)
		}
	}
	return nil
}
