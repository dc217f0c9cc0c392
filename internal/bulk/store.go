package bulk

import "context"

// FileStore persists the lifecycle of uploaded bulk verification files.
// Get returns (nil, nil) when the file is unknown.
type FileStore interface {
	Insert(ctx context.Context, rec *FileRecord) error
	Get(ctx context.Context, fileName string) (*FileRecord, error)
	List(ctx context.Context, dfID string) ([]*FileRecord, error)
	MarkProcessing(ctx context.Context, fileName string) error
	MarkCompleted(ctx context.Context, fileName string, rowCount int) error
	MarkFailed(ctx context.Context, fileName, detail string) error
}
