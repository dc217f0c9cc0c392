package ledger

import (
	"context"

	"veda/internal/artifact"
)

// Store is the append-only audit ledger. Implementations must never
// mutate an existing record and must be durable before Append returns.
type Store interface {
	// Tip returns the most recent record on a chain (timestamp desc,
	// insertion order tiebreak), or nil when the chain has no records.
	Tip(ctx context.Context, key artifact.ChainKey) (*Record, error)

	// Append stores a secured record.
	Append(ctx context.Context, rec *Record) error

	// Chain returns a chain's records in append order.
	Chain(ctx context.Context, key artifact.ChainKey) ([]*Record, error)

	// CountChain returns the number of records on a chain.
	CountChain(ctx context.Context, key artifact.ChainKey) (int, error)

	// ChainsForPrincipal returns every record for a data principal with a
	// fiduciary, across chains, in append order. Serves the audit-history
	// surface.
	ChainsForPrincipal(ctx context.Context, dpID, dfID string) ([]*Record, error)
}
