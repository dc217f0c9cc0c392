package verification

import "context"

// LogStore persists verification trails.
type LogStore interface {
	Insert(ctx context.Context, rec *LogRecord) error
	GetByRequestID(ctx context.Context, requestID string) (*LogRecord, error)
	List(ctx context.Context, filter LogFilter) ([]*LogRecord, error)
	Stats(ctx context.Context, dfID string) (*Stats, error)
}

// NotificationStore queues customer notifications about failed
// verification attempts.
type NotificationStore interface {
	Insert(ctx context.Context, n *Notification) error
}
