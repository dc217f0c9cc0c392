// Package artifactstore is the mutable, versioned projection of each
// consent chain's current artifact.
package artifactstore

import (
	"context"
	"time"

	"veda/internal/artifact"
)

// IdentifierField names the data-principal identifier a lookup matches
// against.
type IdentifierField string

const (
	ByDPID       IdentifierField = "dp_id"
	ByDPSystemID IdentifierField = "dp_df_id"
	ByEmailHash  IdentifierField = "dp_e"
	ByMobileHash IdentifierField = "dp_m"
)

// Store is the Latest-State store. Writers are serialized per chain by
// the chain lock; the version condition on Upsert is the second guard
// against lost updates.
type Store interface {
	// Get returns the artifact for a chain, or nil when absent.
	Get(ctx context.Context, key artifact.ChainKey) (*artifact.Artifact, error)

	// GetByID returns the artifact with the store-assigned id, or nil.
	GetByID(ctx context.Context, id string) (*artifact.Artifact, error)

	// GetByAgreement returns the artifact for an agreement id, or nil.
	GetByAgreement(ctx context.Context, agreementID string) (*artifact.Artifact, error)

	// Upsert inserts when expectedVersion is zero and updates
	// conditionally on version otherwise, incrementing to
	// expectedVersion+1. A version mismatch fails with a stale-update
	// error. Returns the post-image.
	Upsert(ctx context.Context, key artifact.ChainKey, a *artifact.Artifact, expectedVersion int) (*artifact.Artifact, error)

	// FindOneAndUpdate atomically loads the artifact with the given id,
	// applies mutate when predicate holds, increments the version and
	// persists. Returns (nil, nil) when the artifact is absent or the
	// predicate does not match, which callers treat as an
	// already-applied event.
	FindOneAndUpdate(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error)

	// Patch is FindOneAndUpdate without the version increment. Used for
	// notification arming, which carries no audit record and therefore
	// must not advance the chain version.
	Patch(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error)

	// FindByIdentifier returns every artifact of a fiduciary whose data
	// principal matches the identifier value.
	FindByIdentifier(ctx context.Context, field IdentifierField, value, dfID string) ([]*artifact.Artifact, error)

	// ScanExpiringConsents returns artifacts holding at least one
	// approved consent whose expiry falls before the cutoff and whose
	// expiry notification has not been sent.
	ScanExpiringConsents(ctx context.Context, cutoff time.Time) ([]*artifact.Artifact, error)

	// ScanExpiringRetention returns artifacts holding at least one
	// active data element whose retention period falls before the cutoff
	// and whose retention notification has not been sent.
	ScanExpiringRetention(ctx context.Context, cutoff time.Time) ([]*artifact.Artifact, error)

	// All returns every artifact. Startup recovery uses this to compare
	// versions against chain tips.
	All(ctx context.Context) ([]*artifact.Artifact, error)
}
