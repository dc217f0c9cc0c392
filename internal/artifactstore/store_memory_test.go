package artifactstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veda/internal/artifact"
	dErrors "veda/pkg/domain-errors"
)

func newArtifact(dpID string) *artifact.Artifact {
	return &artifact.Artifact{
		AgreementID:   "agr-" + dpID,
		CPID:          "cp-1",
		Timestamp:     "2025-03-01T10:30:00.000000+00:00",
		DataPrincipal: artifact.DataPrincipal{DPID: dpID, DPEmailHash: "eh-" + dpID},
		DataFiduciary: artifact.DataFiduciary{DFID: "df-1"},
		ConsentScope: artifact.ConsentScope{DataElements: []artifact.DataElementEntry{
			{DEID: "de-1", DEHashID: "h-de-1", DEStatus: artifact.DEActive, Consents: []artifact.ConsentEntry{
				{PurposeID: "p1", PurposeHashID: "h-p1", ConsentStatus: artifact.StatusApproved},
			}},
		}},
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	a := newArtifact("dp-1")

	inserted, err := store.Upsert(ctx, a.Key(), a, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted.Version)
	assert.NotEmpty(t, inserted.ID)

	updated, err := store.Upsert(ctx, a.Key(), inserted, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, inserted.ID, updated.ID)
}

func TestUpsertStaleVersion(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	a := newArtifact("dp-1")

	_, err := store.Upsert(ctx, a.Key(), a, 0)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, a.Key(), a, 5)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleUpdate))

	// double insert is also stale
	_, err = store.Upsert(ctx, a.Key(), a, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleUpdate))
}

func TestGetAbsentReturnsNil(t *testing.T) {
	store := NewMemory()
	got, err := store.Get(context.Background(), artifact.ChainKey{DPID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindOneAndUpdate(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	a := newArtifact("dp-1")
	inserted, err := store.Upsert(ctx, a.Key(), a, 0)
	require.NoError(t, err)

	post, err := store.FindOneAndUpdate(ctx, inserted.ID,
		func(a *artifact.Artifact) bool {
			c := a.DataElement("de-1").Consent("p1")
			return c != nil && c.ConsentStatus == artifact.StatusApproved
		},
		func(a *artifact.Artifact) {
			a.DataElement("de-1").Consent("p1").ConsentStatus = artifact.StatusExpired
		},
	)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, 2, post.Version)
	assert.Equal(t, artifact.StatusExpired, post.DataElement("de-1").Consent("p1").ConsentStatus)

	// predicate no longer matches: already-applied event
	again, err := store.FindOneAndUpdate(ctx, inserted.ID,
		func(a *artifact.Artifact) bool {
			return a.DataElement("de-1").Consent("p1").ConsentStatus == artifact.StatusApproved
		},
		func(a *artifact.Artifact) {},
	)
	require.NoError(t, err)
	assert.Nil(t, again)

	// version untouched by the miss
	cur, err := store.GetByID(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
}

func TestFindOneAndUpdateUnknownID(t *testing.T) {
	store := NewMemory()
	post, err := store.FindOneAndUpdate(context.Background(), "missing",
		func(*artifact.Artifact) bool { return true },
		func(*artifact.Artifact) {},
	)
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestFindByIdentifier(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for _, dp := range []string{"dp-1", "dp-2"} {
		a := newArtifact(dp)
		_, err := store.Upsert(ctx, a.Key(), a, 0)
		require.NoError(t, err)
	}

	byID, err := store.FindByIdentifier(ctx, ByDPID, "dp-1", "df-1")
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "dp-1", byID[0].DataPrincipal.DPID)

	byEmail, err := store.FindByIdentifier(ctx, ByEmailHash, "eh-dp-2", "df-1")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)

	wrongDF, err := store.FindByIdentifier(ctx, ByDPID, "dp-1", "df-other")
	require.NoError(t, err)
	assert.Empty(t, wrongDF)
}

func TestScanExpiringConsents(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	soon := newArtifact("dp-soon")
	soon.ConsentScope.DataElements[0].Consents[0].ConsentExpiryPeriod = "2025-03-10T00:00:00.000000+00:00"
	_, err := store.Upsert(ctx, soon.Key(), soon, 0)
	require.NoError(t, err)

	notified := newArtifact("dp-notified")
	notified.ConsentScope.DataElements[0].Consents[0].ConsentExpiryPeriod = "2025-03-10T00:00:00.000000+00:00"
	notified.ConsentScope.DataElements[0].Consents[0].ConsentExpiryNotificationSent = true
	_, err = store.Upsert(ctx, notified.Key(), notified, 0)
	require.NoError(t, err)

	far := newArtifact("dp-far")
	far.ConsentScope.DataElements[0].Consents[0].ConsentExpiryPeriod = "2026-03-10T00:00:00.000000+00:00"
	_, err = store.Upsert(ctx, far.Key(), far, 0)
	require.NoError(t, err)

	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.ScanExpiringConsents(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dp-soon", got[0].DataPrincipal.DPID)
}

func TestScanExpiringRetention(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	due := newArtifact("dp-due")
	due.ConsentScope.DataElements[0].DataRetentionPeriod = "2025-03-10T00:00:00.000000+00:00"
	_, err := store.Upsert(ctx, due.Key(), due, 0)
	require.NoError(t, err)

	inactive := newArtifact("dp-inactive")
	inactive.ConsentScope.DataElements[0].DataRetentionPeriod = "2025-03-10T00:00:00.000000+00:00"
	inactive.ConsentScope.DataElements[0].DEStatus = artifact.DEInactive
	_, err = store.Upsert(ctx, inactive.Key(), inactive, 0)
	require.NoError(t, err)

	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.ScanExpiringRetention(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dp-due", got[0].DataPrincipal.DPID)
}
