package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	"veda/internal/platform/kafka"
)

var (
	expirySweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veda_scheduler_sweeps_total",
		Help: "Expiry scanner sweeps by kind.",
	}, []string{"kind"})
	expiryEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veda_scheduler_enqueued_total",
		Help: "Lifecycle messages enqueued onto delay topics by kind.",
	}, []string{"kind"})
)

// DueAtHeader carries the instant a delayed message becomes deliverable,
// RFC 3339 with nanoseconds.
const DueAtHeader = "x-due-at"

// Sweep cadence and look-ahead windows.
const (
	DefaultScanInterval    = 180 * time.Second
	DefaultConsentWindow   = 31 * 24 * time.Hour
	DefaultRetentionWindow = 48 * time.Hour
)

// Publisher is the producing surface the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Notifier arms the sent flag after a delayed message is enqueued, so
// the next sweep skips the entry. Implemented by the consent worker
// service.
type Notifier interface {
	MarkExpiryNotified(ctx context.Context, artifactID, deID, purposeID, expiryAt string) error
	MarkRetentionNotified(ctx context.Context, artifactID, deID, retentionAt string) error
}

// delayMessage matches the processing-queue envelope for expiry events.
type delayMessage struct {
	EventType         string `json:"event_type"`
	ConsentArtifactID string `json:"consent_artifact_id"`
	DataElementID     string `json:"data_element_id"`
	PurposeID         string `json:"purpose_id,omitempty"`
	ConsentExpiryAt   string `json:"consent_expiry_at,omitempty"`
	RetentionExpiryAt string `json:"retention_expiry_at,omitempty"`
}

// Scanner periodically walks the Latest-State store for approaching
// expiries. For each hit it enqueues the lifecycle message onto the
// delay topic, records a renewal notification, then arms the sent flag.
// Publish happens before arming: a crash in between re-enqueues on the
// next sweep and the worker's guards drop the duplicate.
type Scanner struct {
	latest   artifactstore.Store
	notifier Notifier
	renewals RenewalStore
	producer Publisher
	log      *slog.Logger
	now      func() time.Time

	interval        time.Duration
	consentWindow   time.Duration
	retentionWindow time.Duration
}

// ScannerOption adjusts sweep cadence and windows.
type ScannerOption func(*Scanner)

func WithScanInterval(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.interval = d }
}

func WithConsentWindow(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.consentWindow = d }
}

func WithRetentionWindow(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.retentionWindow = d }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

func NewScanner(latest artifactstore.Store, notifier Notifier, renewals RenewalStore, producer Publisher, log *slog.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		latest:          latest,
		notifier:        notifier,
		renewals:        renewals,
		producer:        producer,
		log:             log,
		now:             time.Now,
		interval:        DefaultScanInterval,
		consentWindow:   DefaultConsentWindow,
		retentionWindow: DefaultRetentionWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunConsentExpiry sweeps for approaching consent expiries until the
// context is cancelled.
func (s *Scanner) RunConsentExpiry(ctx context.Context) error {
	return s.loop(ctx, func(ctx context.Context) {
		if _, err := s.SweepConsents(ctx); err != nil {
			s.log.Error("consent expiry sweep failed", "error", err)
		}
	})
}

// RunDataRetention sweeps for approaching retention boundaries until
// the context is cancelled.
func (s *Scanner) RunDataRetention(ctx context.Context) error {
	return s.loop(ctx, func(ctx context.Context) {
		if _, err := s.SweepRetention(ctx); err != nil {
			s.log.Error("data retention sweep failed", "error", err)
		}
	})
}

func (s *Scanner) loop(ctx context.Context, sweep func(context.Context)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// SweepConsents enqueues one delayed expiry message per approved,
// un-notified consent expiring inside the look-ahead window. Returns
// the number of messages enqueued.
func (s *Scanner) SweepConsents(ctx context.Context) (int, error) {
	expirySweeps.WithLabelValues(RenewalConsentExpiry).Inc()
	cutoff := s.now().Add(s.consentWindow)
	artifacts, err := s.latest.ScanExpiringConsents(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, a := range artifacts {
		for _, de := range a.ConsentScope.DataElements {
			for _, c := range de.Consents {
				if c.ConsentStatus != artifact.StatusApproved || c.ConsentExpiryPeriod == "" || c.ConsentExpiryNotificationSent {
					continue
				}
				expiresAt, err := artifact.ParseTimestamp(c.ConsentExpiryPeriod)
				if err != nil || !expiresAt.Before(cutoff) {
					continue
				}
				msg := &delayMessage{
					EventType:         "consent_expiry",
					ConsentArtifactID: a.ID,
					DataElementID:     de.DEID,
					PurposeID:         c.PurposeID,
					ConsentExpiryAt:   c.ConsentExpiryPeriod,
				}
				if err := s.enqueue(ctx, kafka.TopicConsentExpiryDelay, a.ID, msg, expiresAt); err != nil {
					s.log.Error("enqueue consent expiry failed",
						"artifact", a.ID, "de", de.DEID, "purpose", c.PurposeID, "error", err)
					continue
				}
				s.recordRenewal(ctx, a, de.DEID, c.PurposeID, RenewalConsentExpiry, c.ConsentExpiryPeriod)
				if err := s.notifier.MarkExpiryNotified(ctx, a.ID, de.DEID, c.PurposeID, c.ConsentExpiryPeriod); err != nil {
					s.log.Error("arm expiry notification failed", "artifact", a.ID, "error", err)
					continue
				}
				expiryEnqueued.WithLabelValues(RenewalConsentExpiry).Inc()
				enqueued++
			}
		}
	}
	return enqueued, nil
}

// SweepRetention enqueues one delayed erasure message per active,
// un-notified data element whose retention boundary falls inside the
// look-ahead window.
func (s *Scanner) SweepRetention(ctx context.Context) (int, error) {
	expirySweeps.WithLabelValues(RenewalDataRetention).Inc()
	cutoff := s.now().Add(s.retentionWindow)
	artifacts, err := s.latest.ScanExpiringRetention(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, a := range artifacts {
		for _, de := range a.ConsentScope.DataElements {
			if de.DEStatus != artifact.DEActive || de.DataRetentionPeriod == "" || de.DataRetentionNotificationSent {
				continue
			}
			retiresAt, err := artifact.ParseTimestamp(de.DataRetentionPeriod)
			if err != nil || !retiresAt.Before(cutoff) {
				continue
			}
			msg := &delayMessage{
				EventType:         "data_retention_expiry",
				ConsentArtifactID: a.ID,
				DataElementID:     de.DEID,
				RetentionExpiryAt: de.DataRetentionPeriod,
			}
			if err := s.enqueue(ctx, kafka.TopicDataExpiryDelay, a.ID, msg, retiresAt); err != nil {
				s.log.Error("enqueue data retention failed", "artifact", a.ID, "de", de.DEID, "error", err)
				continue
			}
			s.recordRenewal(ctx, a, de.DEID, "", RenewalDataRetention, de.DataRetentionPeriod)
			if err := s.notifier.MarkRetentionNotified(ctx, a.ID, de.DEID, de.DataRetentionPeriod); err != nil {
				s.log.Error("arm retention notification failed", "artifact", a.ID, "error", err)
				continue
			}
			expiryEnqueued.WithLabelValues(RenewalDataRetention).Inc()
			enqueued++
		}
	}
	return enqueued, nil
}

func (s *Scanner) enqueue(ctx context.Context, topic, artifactID string, msg *delayMessage, dueAt time.Time) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := kafka.Header{Key: DueAtHeader, Value: []byte(dueAt.UTC().Format(time.RFC3339Nano))}
	return s.producer.Publish(ctx, topic, []byte(artifactID), value, header)
}

func (s *Scanner) recordRenewal(ctx context.Context, a *artifact.Artifact, deID, purposeID, kind, expiryAt string) {
	n := &RenewalNotification{
		ID:               uuid.NewString(),
		ArtifactID:       a.ID,
		DPID:             a.DataPrincipal.DPID,
		DFID:             a.DataFiduciary.DFID,
		DataElementID:    deID,
		PurposeID:        purposeID,
		NotificationType: kind,
		ExpiryAt:         expiryAt,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.renewals.Insert(ctx, n); err != nil {
		s.log.Error("record renewal notification failed", "artifact", a.ID, "error", err)
	}
}
