package httptransport

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"veda/internal/bulk"
	"veda/internal/platform/kafka"
	dErrors "veda/pkg/domain-errors"
)

const maxUploadBytes = 64 << 20

// handleBulkUpload stores the uploaded CSV in the unprocessed bucket,
// opens a pending file record and enqueues the processing job.
func (h *Handler) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	df := r.Header.Get(FiduciaryHeader)
	if df == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "fiduciary header is required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse multipart upload"))
		return
	}
	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "a csv file field is required"))
		return
	}
	defer upload.Close()

	fileType := r.FormValue("file_type")
	if fileType == "" {
		fileType = "internal"
	}
	userID := r.FormValue("user_id")

	// prefix with a fresh id so uploads never collide
	name := strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + filepath.Base(header.Filename)
	ctx := r.Context()
	if err := h.objects.Put(ctx, h.unprocessedBucket, name, "text/csv", upload); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	rec := &bulk.FileRecord{
		FileName:    name,
		DFID:        df,
		RequestedBy: userID,
		FileType:    fileType,
		Status:      bulk.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.files.Insert(ctx, rec); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeStorage, "record uploaded file"))
		return
	}

	job, err := json.Marshal(&bulk.Job{FileName: name, DFID: df, UserID: userID, FileType: fileType})
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode bulk job"))
		return
	}
	if err := h.producer.Publish(ctx, kafka.TopicBulkVerification, []byte(df), job); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeStorage, "enqueue bulk job"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"filename": name,
		"status":   bulk.StatusPending,
	})
}
