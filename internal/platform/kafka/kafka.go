// Package kafka wraps the franz-go client with the small producer and
// consumer surface the services need: sync publishes, group consumption
// with manual per-record commits, and startup topic provisioning.
package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics used by the control plane.
const (
	TopicProcessing         = "consent_processing_q"
	TopicEvents             = "consent_events_q"
	TopicConsentExpiryDelay = "consent_expiry_delay_queue"
	TopicDataExpiryDelay    = "data_expiry_delay_queue"
	TopicProcessingDLQ      = "consent_processing_dlq"
	TopicBulkVerification   = "consent_bulk_verification"
)

// Header is one record header.
type Header struct {
	Key   string
	Value []byte
}

// EnsureTopics creates any missing topics. Existing topics are left
// untouched.
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) error {
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("connect for topic provisioning: %w", err)
	}
	defer cl.Close()

	adm := kadm.NewClient(cl)
	existing, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	var missing []string
	for _, t := range topics {
		if !existing.Has(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if _, err := adm.CreateTopics(ctx, 1, 1, nil, missing...); err != nil {
		return fmt.Errorf("create topics %v: %w", missing, err)
	}
	return nil
}
