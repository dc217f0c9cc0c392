package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/artifact"
	"veda/internal/platform/kafka"
	dErrors "veda/pkg/domain-errors"
)

var (
	messagesHandled = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veda_consent_message_handle_seconds",
		Help:    "End-to-end handling time of consent processing messages",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type", "outcome"})
	dlqRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veda_consent_dlq_routed_total",
		Help: "Messages routed to the dead-letter stream",
	})
)

// AttemptsHeader counts deliveries of a message across republishes.
const AttemptsHeader = "x-attempts"

// DefaultMaxAttempts is the delivery budget before dead-lettering.
const DefaultMaxAttempts = 5

// Message event types dispatched by the processing consumer. An absent
// event_type means a consent submission.
const (
	EventConsentExpiry       = "consent_expiry"
	EventDataRetentionExpiry = "data_retention_expiry"
	EventDataRetentionManual = "data_retention_expiry_manual"
	EventOTPVerified         = "otp_verification"
)

// envelope is the union of all processing-queue payloads.
type envelope struct {
	EventType         string             `json:"event_type,omitempty"`
	ConsentArtifact   *artifact.Artifact `json:"consent_artifact,omitempty"`
	Timestamp         string             `json:"timestamp,omitempty"`
	ConsentArtifactID string             `json:"consent_artifact_id,omitempty"`
	DataElementID     string             `json:"data_element_id,omitempty"`
	PurposeID         string             `json:"purpose_id,omitempty"`
	ConsentExpiryAt   string             `json:"consent_expiry_at,omitempty"`
	RetentionExpiryAt string             `json:"retention_expiry_at,omitempty"`
}

// Publisher is the producing surface the consumer needs for retries and
// dead-lettering.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Consumer decodes processing-queue messages, dispatches to the Service
// and applies the failure policy: malformed or already-applied messages
// are dropped, crypto failures are dead-lettered, and transient failures
// are republished with an attempt budget.
type Consumer struct {
	svc         *Service
	producer    Publisher
	log         *slog.Logger
	maxAttempts int
}

func NewConsumer(svc *Service, producer Publisher, log *slog.Logger, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Consumer{svc: svc, producer: producer, log: log, maxAttempts: maxAttempts}
}

// HandleProcessing is the handler for the consent processing stream.
func (c *Consumer) HandleProcessing(ctx context.Context, msg *kafka.Message) error {
	start := time.Now()
	env, err := decodeEnvelope(msg.Value)
	if err != nil {
		c.log.Warn("malformed processing message, dropping", "error", err)
		messagesHandled.WithLabelValues("malformed", "dropped").Observe(time.Since(start).Seconds())
		return nil
	}

	err = c.dispatch(ctx, env)
	outcome := c.resolve(ctx, msg, env, err)
	messagesHandled.WithLabelValues(eventLabel(env), string(outcome)).Observe(time.Since(start).Seconds())
	if outcome == outcomeRedeliver {
		return err
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, env *envelope) error {
	switch env.EventType {
	case "":
		if env.ConsentArtifact == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "submission without consent_artifact")
		}
		return c.svc.Submit(ctx, env.ConsentArtifact, env.Timestamp)
	case EventConsentExpiry:
		return c.svc.ConsentExpiry(ctx, env.ConsentArtifactID, env.DataElementID, env.PurposeID, env.ConsentExpiryAt)
	case EventDataRetentionExpiry:
		return c.svc.RetentionExpiry(ctx, env.ConsentArtifactID, env.DataElementID, env.RetentionExpiryAt, false)
	case EventDataRetentionManual:
		return c.svc.RetentionExpiry(ctx, env.ConsentArtifactID, env.DataElementID, env.RetentionExpiryAt, true)
	case EventOTPVerified:
		return c.svc.OTPVerified(ctx, env.ConsentArtifactID)
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown event_type %q", env.EventType)
	}
}

type outcome string

const (
	outcomeOK         outcome = "ok"
	outcomeDropped    outcome = "dropped"
	outcomeDeadLetter outcome = "dead_letter"
	outcomeRetried    outcome = "retried"
	outcomeRedeliver  outcome = "redeliver"
)

// resolve maps a dispatch error to the commit decision. Everything but
// outcomeRedeliver commits the inbound record.
func (c *Consumer) resolve(ctx context.Context, msg *kafka.Message, env *envelope, err error) outcome {
	if err == nil {
		return outcomeOK
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput, dErrors.CodeValidation:
		c.log.Warn("invalid message, dropping", "event_type", eventLabel(env), "error", err)
		return outcomeDropped
	case dErrors.CodeNotFound:
		c.log.Warn("message for unknown artifact, dropping", "event_type", eventLabel(env), "error", err)
		return outcomeDropped
	case dErrors.CodeStaleUpdate:
		c.log.Info("stale message, already applied", "event_type", eventLabel(env))
		return outcomeDropped
	case dErrors.CodeCrypto:
		c.log.Error("crypto failure, dead-lettering", "event_type", eventLabel(env), "error", err)
		if dlqErr := c.deadLetter(ctx, msg); dlqErr != nil {
			return outcomeRedeliver
		}
		return outcomeDeadLetter
	}

	attempts := 1
	if raw := msg.Header(AttemptsHeader); raw != nil {
		if n, convErr := strconv.Atoi(string(raw)); convErr == nil {
			attempts = n
		}
	}
	if attempts >= c.maxAttempts {
		c.log.Error("delivery budget exhausted, dead-lettering",
			"event_type", eventLabel(env), "attempts", attempts, "error", err)
		if dlqErr := c.deadLetter(ctx, msg); dlqErr != nil {
			return outcomeRedeliver
		}
		return outcomeDeadLetter
	}

	header := kafka.Header{Key: AttemptsHeader, Value: []byte(strconv.Itoa(attempts + 1))}
	if pubErr := c.producer.Publish(ctx, msg.Topic, msg.Key, msg.Value, header); pubErr != nil {
		c.log.Error("retry republish failed, leaving uncommitted", "error", pubErr)
		return outcomeRedeliver
	}
	c.log.Warn("transient failure, republished for retry",
		"event_type", eventLabel(env), "attempt", attempts+1, "error", err)
	return outcomeRetried
}

func (c *Consumer) deadLetter(ctx context.Context, msg *kafka.Message) error {
	var headers []kafka.Header
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: v})
	}
	headers = append(headers, kafka.Header{Key: "x-origin-topic", Value: []byte(msg.Topic)})
	if err := c.producer.Publish(ctx, kafka.TopicProcessingDLQ, msg.Key, msg.Value, headers...); err != nil {
		c.log.Error("dead-letter publish failed, leaving uncommitted", "error", err)
		return err
	}
	dlqRouted.Inc()
	return nil
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode processing message")
	}
	return &env, nil
}

func eventLabel(env *envelope) string {
	if env.EventType == "" {
		return "consent_submission"
	}
	return env.EventType
}
