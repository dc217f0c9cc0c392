//go:build integration

package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
)

type KafkaSuite struct {
	suite.Suite
	brokers []string
}

func TestKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSuite))
}

func (s *KafkaSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.3.1")
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	s.Require().NoError(err)
	s.brokers = []string{broker}
}

func (s *KafkaSuite) runConsumer(ctx context.Context, group string, handlers map[string]Handler) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer, err := NewConsumer(s.brokers, group, handlers, log)
	s.Require().NoError(err)
	go func() { _ = consumer.Run(ctx) }()
}

func (s *KafkaSuite) TestPublishConsumeRoundTrip() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const topic = "it_roundtrip_q"
	s.Require().NoError(EnsureTopics(ctx, s.brokers, topic))

	producer, err := NewProducer(s.brokers)
	s.Require().NoError(err)
	defer producer.Close()

	got := make(chan *Message, 1)
	s.runConsumer(ctx, "it-roundtrip", map[string]Handler{
		topic: func(ctx context.Context, msg *Message) error {
			got <- msg
			return nil
		},
	})

	err = producer.Publish(ctx, topic, []byte("chain-1"), []byte(`{"event":"consent_expired"}`),
		Header{Key: "x-due-at", Value: []byte("2025-03-01T10:30:00Z")})
	s.Require().NoError(err)

	select {
	case msg := <-got:
		s.Equal(topic, msg.Topic)
		s.Equal([]byte("chain-1"), msg.Key)
		s.JSONEq(`{"event":"consent_expired"}`, string(msg.Value))
		s.Equal([]byte("2025-03-01T10:30:00Z"), msg.Header("x-due-at"))
	case <-time.After(30 * time.Second):
		s.Fail("record never delivered")
	}
}

// A record whose handler fails must be redelivered, and records behind
// it on the same partition must not be handled before it succeeds.
func (s *KafkaSuite) TestFailedRecordIsRedeliveredBeforeSuccessors() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const topic = "it_redelivery_q"
	s.Require().NoError(EnsureTopics(ctx, s.brokers, topic))

	producer, err := NewProducer(s.brokers)
	s.Require().NoError(err)
	defer producer.Close()

	var mu sync.Mutex
	var handled []string
	failedOnce := false
	done := make(chan struct{})

	s.runConsumer(ctx, "it-redelivery", map[string]Handler{
		topic: func(ctx context.Context, msg *Message) error {
			mu.Lock()
			defer mu.Unlock()
			if string(msg.Value) == "flaky" && !failedOnce {
				failedOnce = true
				return errors.New("transient handler failure")
			}
			handled = append(handled, string(msg.Value))
			if len(handled) == 2 {
				close(done)
			}
			return nil
		},
	})

	s.Require().NoError(producer.Publish(ctx, topic, []byte("chain-1"), []byte("flaky")))
	s.Require().NoError(producer.Publish(ctx, topic, []byte("chain-1"), []byte("follower")))

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.Fail("records never fully handled after redelivery")
	}

	mu.Lock()
	defer mu.Unlock()
	s.True(failedOnce)
	s.Equal([]string{"flaky", "follower"}, handled)
}
