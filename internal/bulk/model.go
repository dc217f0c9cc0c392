// Package bulk runs uploaded CSV files of verification queries through
// the verification engine and writes one result row per input row back
// to object storage.
package bulk

import "time"

// File record lifecycle. A file is resumable at file granularity only:
// a failed file is re-uploaded and re-enqueued, never partially resumed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// FileRecord tracks one uploaded bulk verification file.
type FileRecord struct {
	FileName    string    `json:"file_name"`
	DFID        string    `json:"df_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	FileType    string    `json:"file_type,omitempty"`
	Status      string    `json:"status"`
	RowCount    int       `json:"row_count"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Job is the enqueued request to process one uploaded file.
type Job struct {
	FileName string `json:"filename"`
	DFID     string `json:"df_id"`
	UserID   string `json:"user_id,omitempty"`
	FileType string `json:"file_type,omitempty"`
}
