package bulk

import (
	"context"
	"encoding/json"
	"log/slog"

	"veda/internal/platform/kafka"
	dErrors "veda/pkg/domain-errors"
)

// Consumer handles the bulk verification topic. Malformed jobs and
// file-level failures are committed: the file record carries the
// failure, and redelivery cannot fix a bad upload. Storage outages are
// left uncommitted for broker redelivery.
type Consumer struct {
	proc *Processor
	log  *slog.Logger
}

func NewConsumer(proc *Processor, log *slog.Logger) *Consumer {
	return &Consumer{proc: proc, log: log}
}

func (c *Consumer) HandleBulk(ctx context.Context, msg *kafka.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.log.Warn("dropping malformed bulk job", "error", err)
		return nil
	}
	err := c.proc.Process(ctx, &job)
	switch {
	case err == nil:
		return nil
	case dErrors.HasCode(err, dErrors.CodeStorage), dErrors.HasCode(err, dErrors.CodeTimeout):
		return err
	default:
		// already marked failed on the file record
		c.log.Warn("bulk job dropped", "file", job.FileName, "error", err)
		return nil
	}
}
