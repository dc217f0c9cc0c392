// Package events defines the domain events fanned out after consent
// transitions and the bus adapter that publishes them.
package events

import (
	"context"

	"veda/internal/artifact"
)

// Event types fanned out to consumers.
const (
	ConsentGranted         = "consent_granted"
	ConsentWithdrawn       = "consent_withdrawn"
	ConsentExpired         = "consent_expired"
	DataErasureRetention   = "data_erasure_retention_triggered"
	DataErasureManual      = "data_erasure_manual_triggered"
	OTPVerified            = "otp_verified"
	BulkVerificationDone   = "bulk_verification_completed"
)

// Event is one fan-out payload. Consent events carry flattened purposes;
// erasure events carry the affected data elements.
type Event struct {
	DPID         string                        `json:"dp_id"`
	DFID         string                        `json:"df_id"`
	CPName       string                        `json:"cp_name,omitempty"`
	EventType    string                        `json:"event_type"`
	Timestamp    string                        `json:"timestamp"`
	Purposes     []artifact.FlattenedPurpose   `json:"purposes,omitempty"`
	DataElements []artifact.DataElementEntry   `json:"data_elements,omitempty"`
	Detail       map[string]any                `json:"detail,omitempty"`
}

// Publisher delivers events with at-least-once semantics. Publishes
// happen only after Latest-State and the ledger durably reflect the
// change, and never inside a chain lock.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}
