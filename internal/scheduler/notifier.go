package scheduler

import (
	"context"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	dErrors "veda/pkg/domain-errors"
)

// StoreNotifier arms notification flags directly on the Latest-State
// store. Arming carries no audit record and must not advance the chain
// version, so it patches instead of updating.
type StoreNotifier struct {
	latest artifactstore.Store
}

func NewStoreNotifier(latest artifactstore.Store) *StoreNotifier {
	return &StoreNotifier{latest: latest}
}

// MarkExpiryNotified arms the expiry-notification flag on one consent.
// A consent whose expiry no longer matches the sampled value is left
// alone: the chain moved and the next sweep re-evaluates it.
func (n *StoreNotifier) MarkExpiryNotified(ctx context.Context, artifactID, deID, purposeID, expiryAt string) error {
	_, err := n.latest.Patch(ctx, artifactID,
		func(a *artifact.Artifact) bool {
			de := a.DataElement(deID)
			if de == nil {
				return false
			}
			c := de.Consent(purposeID)
			return c != nil && c.ConsentExpiryPeriod == expiryAt && !c.ConsentExpiryNotificationSent
		},
		func(a *artifact.Artifact) {
			a.DataElement(deID).Consent(purposeID).ConsentExpiryNotificationSent = true
		},
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "mark expiry notified")
	}
	return nil
}

// MarkRetentionNotified arms the retention-notification flag on one
// data element.
func (n *StoreNotifier) MarkRetentionNotified(ctx context.Context, artifactID, deID, retentionAt string) error {
	_, err := n.latest.Patch(ctx, artifactID,
		func(a *artifact.Artifact) bool {
			de := a.DataElement(deID)
			return de != nil && de.DataRetentionPeriod == retentionAt && !de.DataRetentionNotificationSent
		},
		func(a *artifact.Artifact) {
			a.DataElement(deID).DataRetentionNotificationSent = true
		},
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "mark retention notified")
	}
	return nil
}
