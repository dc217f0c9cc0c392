package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	"veda/internal/platform/kafka"
)

type published struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string][]byte
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []published
	fail     bool
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	m := published{topic: topic, key: key, value: value, headers: make(map[string][]byte)}
	for _, h := range headers {
		m.headers[h.Key] = h.Value
	}
	p.messages = append(p.messages, m)
	return nil
}

func (p *fakeProducer) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

type fixture struct {
	scanner  *Scanner
	latest   *artifactstore.MemoryStore
	renewals *MemoryRenewalStore
	producer *fakeProducer
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		latest:   artifactstore.NewMemory(),
		renewals: NewMemoryRenewals(),
		producer: &fakeProducer{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.scanner = NewScanner(f.latest, NewStoreNotifier(f.latest), f.renewals, f.producer, log,
		WithClock(func() time.Time { return testNow }))
	return f
}

func (f *fixture) seed(t *testing.T, a *artifact.Artifact) *artifact.Artifact {
	t.Helper()
	post, err := f.latest.Upsert(context.Background(), a.Key(), a, 0)
	require.NoError(t, err)
	return post
}

func expiringArtifact() *artifact.Artifact {
	return &artifact.Artifact{
		AgreementID:   "agr-1",
		CPID:          "cp-1",
		DataPrincipal: artifact.DataPrincipal{DPID: "dp-1"},
		DataFiduciary: artifact.DataFiduciary{DFID: "df-1"},
		ConsentScope: artifact.ConsentScope{DataElements: []artifact.DataElementEntry{
			{
				DEID: "de-A", DEHashID: "h-A", DEStatus: artifact.DEActive,
				DataRetentionPeriod: "2025-06-02T12:00:00.000000+00:00",
				Consents: []artifact.ConsentEntry{
					// inside the 31 day window
					{PurposeID: "p1", PurposeHashID: "h-p1", ConsentStatus: artifact.StatusApproved,
						ConsentExpiryPeriod: "2025-06-11T12:00:00.000000+00:00"},
					// denied, never scheduled
					{PurposeID: "p2", PurposeHashID: "h-p2", ConsentStatus: artifact.StatusDenied,
						ConsentExpiryPeriod: "2025-06-05T12:00:00.000000+00:00"},
					// beyond the window
					{PurposeID: "p3", PurposeHashID: "h-p3", ConsentStatus: artifact.StatusApproved,
						ConsentExpiryPeriod: "2026-06-01T12:00:00.000000+00:00"},
				},
			},
		}},
	}
}

func TestSweepConsents(t *testing.T) {
	f := newFixture(t)
	stored := f.seed(t, expiringArtifact())

	n, err := f.scanner.SweepConsents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := f.producer.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, kafka.TopicConsentExpiryDelay, msgs[0].topic)
	assert.Equal(t, stored.ID, string(msgs[0].key))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].value, &payload))
	assert.Equal(t, "consent_expiry", payload["event_type"])
	assert.Equal(t, stored.ID, payload["consent_artifact_id"])
	assert.Equal(t, "de-A", payload["data_element_id"])
	assert.Equal(t, "p1", payload["purpose_id"])
	assert.Equal(t, "2025-06-11T12:00:00.000000+00:00", payload["consent_expiry_at"])

	dueAt, err := time.Parse(time.RFC3339Nano, string(msgs[0].headers[DueAtHeader]))
	require.NoError(t, err)
	assert.True(t, dueAt.Equal(time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)))

	renewals := f.renewals.All()
	require.Len(t, renewals, 1)
	assert.Equal(t, RenewalConsentExpiry, renewals[0].NotificationType)
	assert.Equal(t, "dp-1", renewals[0].DPID)

	// the flag is armed, the next sweep finds nothing
	n, err = f.scanner.SweepConsents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.producer.all(), 1)
}

func TestSweepRetention(t *testing.T) {
	f := newFixture(t)
	stored := f.seed(t, expiringArtifact())

	n, err := f.scanner.SweepRetention(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := f.producer.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, kafka.TopicDataExpiryDelay, msgs[0].topic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].value, &payload))
	assert.Equal(t, "data_retention_expiry", payload["event_type"])
	assert.Equal(t, stored.ID, payload["consent_artifact_id"])
	assert.Equal(t, "de-A", payload["data_element_id"])
	assert.Equal(t, "2025-06-02T12:00:00.000000+00:00", payload["retention_expiry_at"])

	n, err = f.scanner.SweepRetention(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRetentionSkipsInactive(t *testing.T) {
	f := newFixture(t)
	a := expiringArtifact()
	a.ConsentScope.DataElements[0].DEStatus = artifact.DEInactive
	f.seed(t, a)

	n, err := f.scanner.SweepRetention(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.producer.all())
}

func TestSweepPublishFailureLeavesUnarmed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, expiringArtifact())
	f.producer.fail = true

	n, err := f.scanner.SweepConsents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.renewals.All())

	// next sweep retries
	f.producer.fail = false
	n, err = f.scanner.SweepConsents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelayDriverWaitsUntilDue(t *testing.T) {
	producer := &fakeProducer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := NewDelayDriver(producer, log)

	start := time.Now()
	dueAt := start.Add(30 * time.Millisecond)
	msg := &kafka.Message{
		Topic:   kafka.TopicConsentExpiryDelay,
		Key:     []byte("art-1"),
		Value:   []byte(`{"event_type":"consent_expiry"}`),
		Headers: map[string][]byte{DueAtHeader: []byte(dueAt.UTC().Format(time.RFC3339Nano))},
	}
	require.NoError(t, driver.Handle(context.Background(), msg))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	msgs := producer.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, kafka.TopicProcessing, msgs[0].topic)
	assert.Equal(t, msg.Value, msgs[0].value)
	assert.Equal(t, msg.Key, msgs[0].key)
}

func TestDelayDriverRequeuesRecordDueBeyondHoldBound(t *testing.T) {
	producer := &fakeProducer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := NewDelayDriver(producer, log).WithMaxHold(10 * time.Millisecond)

	dueAt := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
	msg := &kafka.Message{
		Topic:   kafka.TopicConsentExpiryDelay,
		Key:     []byte("art-1"),
		Value:   []byte(`{"event_type":"consent_expiry"}`),
		Headers: map[string][]byte{DueAtHeader: []byte(dueAt)},
	}
	start := time.Now()
	require.NoError(t, driver.Handle(context.Background(), msg))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	// Still distant, so it goes back on its own topic with the due-at
	// intact; a record due in hours behind it is no longer stuck for
	// the whole look-ahead window.
	msgs := producer.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, kafka.TopicConsentExpiryDelay, msgs[0].topic)
	assert.Equal(t, msg.Value, msgs[0].value)
	assert.Equal(t, []byte(dueAt), msgs[0].headers[DueAtHeader])
}

func TestDelayDriverPastDueForwardsImmediately(t *testing.T) {
	producer := &fakeProducer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := NewDelayDriver(producer, log)

	msg := &kafka.Message{
		Topic:   kafka.TopicDataExpiryDelay,
		Value:   []byte(`{}`),
		Headers: map[string][]byte{DueAtHeader: []byte(time.Now().Add(-time.Hour).Format(time.RFC3339Nano))},
	}
	start := time.Now()
	require.NoError(t, driver.Handle(context.Background(), msg))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	assert.Len(t, producer.all(), 1)
}

func TestDelayDriverCancelledWhileWaiting(t *testing.T) {
	producer := &fakeProducer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := NewDelayDriver(producer, log)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	msg := &kafka.Message{
		Topic:   kafka.TopicConsentExpiryDelay,
		Value:   []byte(`{}`),
		Headers: map[string][]byte{DueAtHeader: []byte(time.Now().Add(time.Hour).Format(time.RFC3339Nano))},
	}
	err := driver.Handle(ctx, msg)
	require.Error(t, err)
	assert.Empty(t, producer.all())
}

func TestDelayDriverMissingHeaderForwards(t *testing.T) {
	producer := &fakeProducer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := NewDelayDriver(producer, log)

	msg := &kafka.Message{Topic: kafka.TopicConsentExpiryDelay, Value: []byte(`{}`)}
	require.NoError(t, driver.Handle(context.Background(), msg))
	assert.Len(t, producer.all(), 1)
}
