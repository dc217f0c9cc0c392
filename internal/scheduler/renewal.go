// Package scheduler finds consents and data elements approaching their
// expiry, enqueues their lifecycle messages onto delay topics, and
// drives the delay topics back into the processing stream when due.
package scheduler

import (
	"context"
	"time"
)

// Renewal notification kinds.
const (
	RenewalConsentExpiry = "consent_expiry"
	RenewalDataRetention = "data_retention"
)

// RenewalNotification is the persisted trace of one expiry warning sent
// to a data principal.
type RenewalNotification struct {
	ID               string    `json:"id"`
	ArtifactID       string    `json:"consent_artifact_id"`
	DPID             string    `json:"dp_id"`
	DFID             string    `json:"df_id"`
	DataElementID    string    `json:"data_element_id"`
	PurposeID        string    `json:"purpose_id,omitempty"`
	NotificationType string    `json:"notification_type"`
	ExpiryAt         string    `json:"expiry_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// RenewalStore persists renewal notifications.
type RenewalStore interface {
	Insert(ctx context.Context, n *RenewalNotification) error
}
