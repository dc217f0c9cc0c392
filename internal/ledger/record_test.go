package ledger

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veda/internal/artifact"
)

const testKeyID = "cm-key-2025-01"

func newTestSigner(t *testing.T) (*Signer, *Verifier) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	signer, err := NewSigner(pemData, testKeyID)
	require.NoError(t, err)

	pubPEM, err := signer.PublicKeyPEM()
	require.NoError(t, err)
	verifier := NewVerifier()
	require.NoError(t, verifier.AddKey(testKeyID, pubPEM))
	return signer, verifier
}

func snapshotAt(version int, op, ts string) *artifact.Artifact {
	return &artifact.Artifact{
		AgreementID:   "agr-1",
		CPID:          "cp-1",
		CPName:        "Signup",
		Version:       version,
		Operation:     op,
		Timestamp:     ts,
		DataPrincipal: artifact.DataPrincipal{DPID: "dp-1"},
		DataFiduciary: artifact.DataFiduciary{DFID: "df-1"},
		ConsentScope: artifact.ConsentScope{DataElements: []artifact.DataElementEntry{
			{DEID: "de-1", DEStatus: artifact.DEActive, Consents: []artifact.ConsentEntry{
				{PurposeID: "p1", ConsentStatus: artifact.StatusApproved},
			}},
		}},
	}
}

func TestSecureGenesisRecord(t *testing.T) {
	signer, verifier := newTestSigner(t)

	rec := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	require.NoError(t, rec.Secure(nil, signer))

	assert.Empty(t, rec.PrevRecordHash)
	assert.Equal(t, HashHex([]byte(rec.CanonicalRecord)), rec.DataHash)
	assert.Equal(t, HashHex([]byte(rec.DataHash+rec.Timestamp())), rec.RecordHash)
	assert.Equal(t, testKeyID, rec.SignedWithKeyID)
	require.NoError(t, verifier.Verify(rec.RecordHash, rec.Signature, rec.SignedWithKeyID))

	// secured fields never leak into the canonical pre-image
	for _, f := range securedFields {
		assert.NotContains(t, rec.CanonicalRecord, `"`+f+`"`)
	}
}

func TestSecureLinksToPrevious(t *testing.T) {
	signer, _ := newTestSigner(t)

	genesis := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	require.NoError(t, genesis.Secure(nil, signer))

	next := NewRecord(snapshotAt(2, artifact.OpUpdate, "2025-03-01T10:31:00.000000+00:00"))
	require.NoError(t, next.Secure(genesis, signer))

	assert.Equal(t, genesis.RecordHash, next.PrevRecordHash)
	assert.Equal(t, HashHex([]byte(next.PrevRecordHash+next.DataHash+next.Timestamp())), next.RecordHash)
}

func TestSecureDeterministicDataHash(t *testing.T) {
	signer, _ := newTestSigner(t)

	a := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	b := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	require.NoError(t, a.Secure(nil, signer))
	require.NoError(t, b.Secure(nil, signer))
	assert.Equal(t, a.DataHash, b.DataHash)
	assert.Equal(t, a.RecordHash, b.RecordHash)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	signer, verifier := newTestSigner(t)
	store := NewMemory()
	ctx := context.Background()

	var prev *Record
	stamps := []string{
		"2025-03-01T10:30:00.000000+00:00",
		"2025-03-01T10:31:00.000000+00:00",
		"2025-03-01T10:32:00.000000+00:00",
	}
	for i, ts := range stamps {
		op := artifact.OpUpdate
		if i == 0 {
			op = artifact.OpInsert
		}
		rec := NewRecord(snapshotAt(i+1, op, ts))
		require.NoError(t, rec.Secure(prev, signer))
		require.NoError(t, store.Append(ctx, rec))
		prev = rec
	}

	chain, err := store.Chain(ctx, artifact.ChainKey{DPID: "dp-1", DFID: "df-1", CPID: "cp-1", AgreementID: "agr-1"})
	require.NoError(t, err)
	require.Len(t, chain, 3)

	reports := VerifyChain(chain, verifier)
	for _, rep := range reports {
		assert.False(t, rep.Tampered, "version %d", rep.Version)
	}

	// mutate the middle record's snapshot
	chain[1].CanonicalRecord = strings.Replace(chain[1].CanonicalRecord, "approved", "denied", 1)
	reports = VerifyChain(chain, verifier)
	assert.True(t, reports[1].Tampered)
	assert.False(t, reports[1].DataHashOK)
	assert.False(t, reports[0].Tampered)
	assert.False(t, reports[2].Tampered)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	signer, verifier := newTestSigner(t)

	genesis := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	require.NoError(t, genesis.Secure(nil, signer))
	orphan := NewRecord(snapshotAt(2, artifact.OpUpdate, "2025-03-01T10:31:00.000000+00:00"))
	require.NoError(t, orphan.Secure(nil, signer)) // not linked to genesis

	reports := VerifyChain([]*Record{genesis, orphan}, verifier)
	assert.False(t, reports[0].Tampered)
	assert.True(t, reports[1].Tampered)
	assert.False(t, reports[1].ChainOK)
	assert.True(t, reports[1].DataHashOK)
	assert.True(t, reports[1].SignatureOK)
}

func TestMemoryStoreTipAndCount(t *testing.T) {
	signer, _ := newTestSigner(t)
	store := NewMemory()
	ctx := context.Background()
	key := artifact.ChainKey{DPID: "dp-1", DFID: "df-1", CPID: "cp-1", AgreementID: "agr-1"}

	tip, err := store.Tip(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, tip)

	rec := NewRecord(snapshotAt(1, artifact.OpInsert, "2025-03-01T10:30:00.000000+00:00"))
	require.NoError(t, rec.Secure(nil, signer))
	require.NoError(t, store.Append(ctx, rec))

	tip, err = store.Tip(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, 1, tip.Version())

	n, err := store.CountChain(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
