package scheduler

import (
	"context"
	"log/slog"
	"time"

	"veda/internal/platform/kafka"
)

// DefaultMaxHold bounds how long one record may block its delay
// partition. A record due further out than this is re-published to the
// same delay topic after the hold, so a shorter-due record behind it
// waits at most one hold, not the whole look-ahead window.
const DefaultMaxHold = 5 * time.Minute

// DelayDriver consumes a delay topic and forwards each record to the
// processing stream once its due instant has passed. The record is held
// uncommitted while waiting, so a restart resurfaces it: bounded
// lateness, never loss. Waiting uses the monotonic clock via the timer.
type DelayDriver struct {
	producer Publisher
	log      *slog.Logger
	now      func() time.Time
	maxHold  time.Duration
}

func NewDelayDriver(producer Publisher, log *slog.Logger) *DelayDriver {
	return &DelayDriver{producer: producer, log: log, now: time.Now, maxHold: DefaultMaxHold}
}

// WithClock overrides the time source. Test hook.
func (d *DelayDriver) WithClock(now func() time.Time) *DelayDriver {
	d.now = now
	return d
}

// WithMaxHold overrides the per-record hold bound.
func (d *DelayDriver) WithMaxHold(max time.Duration) *DelayDriver {
	d.maxHold = max
	return d
}

// Handle waits out the record's remaining delay and forwards it to the
// processing topic. A record due beyond the hold bound is re-enqueued on
// its own topic instead, keeping the partition moving. A record without
// a parseable due-at header forwards immediately.
func (d *DelayDriver) Handle(ctx context.Context, msg *kafka.Message) error {
	if raw := msg.Header(DueAtHeader); raw != nil {
		dueAt, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			d.log.Warn("unparseable due-at header, forwarding now", "topic", msg.Topic, "value", string(raw))
		} else if wait := dueAt.Sub(d.now()); wait > 0 {
			hop := wait > d.maxHold
			if hop {
				wait = d.maxHold
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			if hop {
				return d.requeue(ctx, msg)
			}
		}
	}
	if err := d.producer.Publish(ctx, kafka.TopicProcessing, msg.Key, msg.Value); err != nil {
		d.log.Error("forward delayed message failed", "topic", msg.Topic, "error", err)
		return err
	}
	return nil
}

// requeue puts a still-distant record back on its own delay topic with
// its headers intact, so commit can advance past it.
func (d *DelayDriver) requeue(ctx context.Context, msg *kafka.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: v})
	}
	if err := d.producer.Publish(ctx, msg.Topic, msg.Key, msg.Value, headers...); err != nil {
		d.log.Error("requeue delayed message failed", "topic", msg.Topic, "error", err)
		return err
	}
	return nil
}
