package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

const testTopic = "consent_processing_q"

func rec(topic string, partition int32, offset int64, value string) *kgo.Record {
	return &kgo.Record{Topic: topic, Partition: partition, Offset: offset, LeaderEpoch: 1, Value: []byte(value)}
}

type batchFixture struct {
	consumer  *Consumer
	handled   []string
	committed []int64
}

// newBatchFixture builds a Consumer whose handler fails for values in
// failOn and whose commits are recorded instead of sent to a broker.
func newBatchFixture(failOn map[string]bool, failCommit map[int64]bool) *batchFixture {
	f := &batchFixture{}
	c := &Consumer{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		handlers: map[string]Handler{
			testTopic: func(_ context.Context, msg *Message) error {
				f.handled = append(f.handled, string(msg.Value))
				if failOn[string(msg.Value)] {
					return errors.New("handler failed")
				}
				return nil
			},
		},
	}
	c.commit = func(_ context.Context, r *kgo.Record) error {
		if failCommit[r.Offset] {
			return errors.New("commit failed")
		}
		f.committed = append(f.committed, r.Offset)
		return nil
	}
	f.consumer = c
	return f
}

func TestHandleBatchCommitsEachRecordInOrder(t *testing.T) {
	f := newBatchFixture(nil, nil)

	rewind := f.consumer.handleBatch(context.Background(), []*kgo.Record{
		rec(testTopic, 0, 5, "a"),
		rec(testTopic, 0, 6, "b"),
		rec(testTopic, 1, 3, "c"),
	})

	assert.Empty(t, rewind)
	assert.Equal(t, []string{"a", "b", "c"}, f.handled)
	assert.Equal(t, []int64{5, 6, 3}, f.committed)
}

func TestHandlerFailureRewindsPartitionWithoutCommittingPast(t *testing.T) {
	f := newBatchFixture(map[string]bool{"bad": true}, nil)

	rewind := f.consumer.handleBatch(context.Background(), []*kgo.Record{
		rec(testTopic, 0, 5, "bad"),
		rec(testTopic, 0, 6, "behind"),
		rec(testTopic, 1, 3, "other"),
	})

	// The record behind the failure is never handled: committing a later
	// offset would implicitly commit the failed one.
	assert.Equal(t, []string{"bad", "other"}, f.handled)
	assert.Equal(t, []int64{3}, f.committed)

	require.Contains(t, rewind, testTopic)
	require.Contains(t, rewind[testTopic], int32(0))
	assert.Equal(t, int64(5), rewind[testTopic][0].Offset)
	assert.NotContains(t, rewind[testTopic], int32(1))
}

func TestCommitFailureRewindsPartition(t *testing.T) {
	f := newBatchFixture(nil, map[int64]bool{5: true})

	rewind := f.consumer.handleBatch(context.Background(), []*kgo.Record{
		rec(testTopic, 0, 5, "a"),
		rec(testTopic, 0, 6, "b"),
	})

	assert.Equal(t, []string{"a"}, f.handled)
	assert.Empty(t, f.committed)
	require.Contains(t, rewind, testTopic)
	assert.Equal(t, int64(5), rewind[testTopic][0].Offset)
}

func TestUnroutedTopicIsSkippedWithoutCommit(t *testing.T) {
	f := newBatchFixture(nil, nil)

	rewind := f.consumer.handleBatch(context.Background(), []*kgo.Record{
		rec("unknown_topic", 0, 9, "x"),
		rec(testTopic, 0, 5, "a"),
	})

	assert.Empty(t, rewind)
	assert.Equal(t, []string{"a"}, f.handled)
	assert.Equal(t, []int64{5}, f.committed)
}
