package verification

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	dErrors "veda/pkg/domain-errors"
)

type fixture struct {
	svc           *Service
	latest        *artifactstore.MemoryStore
	logs          *MemoryLogStore
	notifications *MemoryNotificationStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		latest:        artifactstore.NewMemory(),
		logs:          NewMemoryLogs(),
		notifications: NewMemoryNotifications(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.latest, f.logs, f.notifications, log).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return f
}

func (f *fixture) seed(t *testing.T, a *artifact.Artifact) {
	t.Helper()
	_, err := f.latest.Upsert(context.Background(), a.Key(), a, 0)
	require.NoError(t, err)
}

func consentedArtifact() *artifact.Artifact {
	return &artifact.Artifact{
		AgreementID: "agr-1",
		CPID:        "cp-1",
		DataPrincipal: artifact.DataPrincipal{
			DPID:        "dp-X",
			DPSystemID:  "sys-X",
			DPEmailHash: HashIdentifier("x@example.com"),
		},
		DataFiduciary: artifact.DataFiduciary{DFID: "df-1"},
		ConsentScope: artifact.ConsentScope{DataElements: []artifact.DataElementEntry{
			{
				DEID: "de-A", DEHashID: "h-A", DEStatus: artifact.DEActive,
				Consents: []artifact.ConsentEntry{
					{PurposeID: "p1", PurposeHashID: "h-p1", ConsentStatus: artifact.StatusApproved,
						ConsentExpiryPeriod: "2026-01-01T00:00:00.000000+00:00"},
				},
			},
			{
				DEID: "de-B", DEHashID: "h-B", DEStatus: artifact.DEActive,
				Consents: []artifact.ConsentEntry{
					{PurposeID: "p1", PurposeHashID: "h-p1", ConsentStatus: artifact.StatusDenied},
				},
			},
		}},
	}
}

func TestVerifySuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())

	res, err := f.svc.Verify(context.Background(), &Request{
		DPID:              "dp-X",
		PurposeHash:       "h-p1",
		DataElementHashes: []string{"h-A"},
		DFID:              "df-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, []string{"h-A"}, res.ConsentedDataElements)
	assert.NotEmpty(t, res.RequestID)
	assert.NotContains(t, res.RequestID, "-")

	logs, err := f.svc.Logs(context.Background(), LogFilter{DFID: "df-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Verified)
	assert.Empty(t, f.notifications.All())
}

func TestVerifyDeniedElementFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())

	res, err := f.svc.Verify(context.Background(), &Request{
		DPID:              "dp-X",
		PurposeHash:       "h-p1",
		DataElementHashes: []string{"h-A", "h-B"},
		DFID:              "df-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, []string{"h-A"}, res.ConsentedDataElements)

	notes := f.notifications.All()
	require.Len(t, notes, 1)
	assert.Equal(t, res.RequestID, notes[0].RequestID)
}

func TestVerifyExpiredConsentFails(t *testing.T) {
	f := newFixture(t)
	a := consentedArtifact()
	a.ConsentScope.DataElements[0].Consents[0].ConsentExpiryPeriod = "2025-01-01T00:00:00.000000+00:00"
	f.seed(t, a)

	res, err := f.svc.Verify(context.Background(), &Request{
		DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestVerifyInactiveElementFails(t *testing.T) {
	f := newFixture(t)
	a := consentedArtifact()
	a.ConsentScope.DataElements[0].DEStatus = artifact.DEInactive
	f.seed(t, a)

	res, err := f.svc.Verify(context.Background(), &Request{
		DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestVerifyWrongPurposeFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())

	res, err := f.svc.Verify(context.Background(), &Request{
		DPID: "dp-X", PurposeHash: "h-other", DataElementHashes: []string{"h-A"}, DFID: "df-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestVerifyByEmailHashesBeforeLookup(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())

	res, err := f.svc.Verify(context.Background(), &Request{
		Email:             "  x@example.com ",
		PurposeHash:       "h-p1",
		DataElementHashes: []string{"h-A"},
		DFID:              "df-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)

	// the raw email never reaches the log
	logs, err := f.svc.Logs(context.Background(), LogFilter{DFID: "df-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, HashIdentifier("x@example.com"), logs[0].EmailHash)
	assert.Empty(t, logs[0].DPID)
}

func TestVerifyIdentifierPrecedence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())

	// dp_id wins over a bogus email
	res, err := f.svc.Verify(context.Background(), &Request{
		DPID:              "dp-X",
		Email:             "unknown@example.com",
		PurposeHash:       "h-p1",
		DataElementHashes: []string{"h-A"},
		DFID:              "df-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestVerifyNoArtifactsIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), &Request{
		DPID: "ghost", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	// still logged and notified
	logs, err := f.svc.Logs(context.Background(), LogFilter{DFID: "df-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Verified)
	assert.Len(t, f.notifications.All(), 1)
}

func TestVerifyMissingInputs(t *testing.T) {
	f := newFixture(t)
	cases := []Request{
		{PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1"}, // no identifier
		{DPID: "dp-X", DataElementHashes: []string{"h-A"}, DFID: "df-1"},        // no purpose
		{DPID: "dp-X", PurposeHash: "h-p1", DFID: "df-1"},                       // no elements
		{DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}}, // no df
	}
	for i, req := range cases {
		_, err := f.svc.Verify(context.Background(), &req)
		require.Error(t, err, "case %d", i)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "case %d", i)
	}
}

func TestVerifyMonotoneInRetraction(t *testing.T) {
	f := newFixture(t)
	a := consentedArtifact()
	f.seed(t, a)
	req := &Request{DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1"}

	res, err := f.svc.Verify(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Verified)

	// withdraw the purpose
	state, err := f.latest.Get(context.Background(), a.Key())
	require.NoError(t, err)
	state.ConsentScope.DataElements[0].Consents[0].ConsentStatus = artifact.StatusDenied
	_, err = f.latest.Upsert(context.Background(), a.Key(), state, state.Version)
	require.NoError(t, err)

	res, err = f.svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	f.seed(t, consentedArtifact())
	ctx := context.Background()

	ok := &Request{DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-A"}, DFID: "df-1"}
	bad := &Request{DPID: "dp-X", PurposeHash: "h-p1", DataElementHashes: []string{"h-B"}, DFID: "df-1"}
	_, err := f.svc.Verify(ctx, ok)
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, ok)
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, bad)
	require.NoError(t, err)

	stats, err := f.svc.DashboardStats(ctx, "df-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 1, stats.Invalid)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
}

func TestHashIdentifierStable(t *testing.T) {
	a := HashIdentifier("x@example.com")
	b := HashIdentifier(" x@example.com  ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashIdentifier("y@example.com"))
}
