package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one consumed record.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// Header returns a header value, or nil when absent.
func (m *Message) Header(key string) []byte {
	return m.Headers[key]
}

// Handler processes one message. A nil return commits the record; any
// error leaves it uncommitted so the loop redelivers it.
type Handler func(ctx context.Context, msg *Message) error

// Consumer is a consumer-group member dispatching records to per-topic
// handlers, committing manually record by record.
type Consumer struct {
	client   *kgo.Client
	handlers map[string]Handler
	log      *slog.Logger
	commit   func(ctx context.Context, rec *kgo.Record) error
}

func NewConsumer(brokers []string, group string, handlers map[string]Handler, log *slog.Logger) (*Consumer, error) {
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &Consumer{client: client, handlers: handlers, log: log}
	c.commit = func(ctx context.Context, rec *kgo.Record) error {
		return c.client.CommitRecords(ctx, rec)
	}
	return c, nil
}

// Run polls and dispatches until the context is cancelled. Records are
// handled in partition order; on a handler or commit failure the
// partition is rewound to the failed record, so the next poll delivers
// it again and no later offset can be committed over it.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var recs []*kgo.Record
		for it := fetches.RecordIter(); !it.Done(); {
			recs = append(recs, it.Next())
		}
		if rewind := c.handleBatch(ctx, recs); len(rewind) > 0 {
			c.client.SetOffsets(rewind)
		}
	}
}

// handleBatch dispatches one poll's records. The first failure on a
// partition poisons it: every later record of that partition in the
// batch stays unhandled, and the returned offsets rewind the partition
// to the failed record. Other partitions keep going.
func (c *Consumer) handleBatch(ctx context.Context, recs []*kgo.Record) map[string]map[int32]kgo.EpochOffset {
	rewind := make(map[string]map[int32]kgo.EpochOffset)
	for _, rec := range recs {
		if _, poisoned := rewind[rec.Topic][rec.Partition]; poisoned {
			continue
		}
		handler, ok := c.handlers[rec.Topic]
		if !ok {
			c.log.Warn("no handler for topic", "topic", rec.Topic)
			continue
		}
		msg := &Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, Headers: make(map[string][]byte, len(rec.Headers))}
		for _, h := range rec.Headers {
			msg.Headers[h.Key] = h.Value
		}
		if err := handler(ctx, msg); err != nil {
			c.log.Error("message handling failed, rewinding partition",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			markRewind(rewind, rec)
			continue
		}
		if err := c.commit(ctx, rec); err != nil {
			c.log.Error("commit failed, rewinding partition",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			markRewind(rewind, rec)
		}
	}
	return rewind
}

func markRewind(rewind map[string]map[int32]kgo.EpochOffset, rec *kgo.Record) {
	parts, ok := rewind[rec.Topic]
	if !ok {
		parts = make(map[int32]kgo.EpochOffset)
		rewind[rec.Topic] = parts
	}
	parts[rec.Partition] = kgo.EpochOffset{Epoch: rec.LeaderEpoch, Offset: rec.Offset}
}
