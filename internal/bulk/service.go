package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/artifact"
	"veda/internal/events"
	"veda/internal/platform/objectstore"
	"veda/internal/verification"
	dErrors "veda/pkg/domain-errors"
	stringsutil "veda/pkg/platform/strings"
)

var (
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consent_bulk_files_total",
		Help: "Bulk verification files processed by final status.",
	}, []string{"status"})
	rowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consent_bulk_rows_total",
		Help: "Bulk verification rows processed.",
	})
)

const elementSeparator = ";"

var resultHeader = []string{
	"request_id", "dp_id", "dp_system_id", "dp_e", "dp_m",
	"internal_external", "ver_requested_by", "consent_status",
	"data_elements", "purpose_title", "status", "timestamp",
}

// Processor drains one uploaded CSV through the verification engine.
type Processor struct {
	files   FileStore
	objects objectstore.Store
	engine  *verification.Service
	bus     events.Publisher
	log     *slog.Logger
	now     func() time.Time

	unprocessedBucket string
	processedBucket   string
}

func NewProcessor(files FileStore, objects objectstore.Store, engine *verification.Service, bus events.Publisher, unprocessedBucket, processedBucket string, log *slog.Logger) *Processor {
	return &Processor{
		files:             files,
		objects:           objects,
		engine:            engine,
		bus:               bus,
		log:               log,
		now:               time.Now,
		unprocessedBucket: unprocessedBucket,
		processedBucket:   processedBucket,
	}
}

// WithClock overrides the time source. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process runs one file end to end: pending to processing, every row
// through the engine, results back to the processed bucket, then
// completed with a row count. Row-level failures become result rows;
// only file-level failures mark the record failed.
func (p *Processor) Process(ctx context.Context, job *Job) error {
	if job.FileName == "" || job.DFID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "bulk job requires filename and df_id")
	}

	rec, err := p.files.Get(ctx, job.FileName)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "load file record")
	}
	if rec == nil {
		// upload happened outside the API path; track it anyway
		rec = &FileRecord{
			FileName:    job.FileName,
			DFID:        job.DFID,
			RequestedBy: job.UserID,
			FileType:    job.FileType,
			Status:      StatusPending,
			CreatedAt:   p.now().UTC(),
			UpdatedAt:   p.now().UTC(),
		}
		if err := p.files.Insert(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorage, "insert file record")
		}
	}
	if rec.Status == StatusCompleted {
		p.log.Info("bulk file already completed, skipping", "file", job.FileName)
		return nil
	}
	if err := p.files.MarkProcessing(ctx, job.FileName); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "mark file processing")
	}

	rows, err := p.run(ctx, job)
	if err != nil {
		p.fail(ctx, job, err)
		return err
	}

	if err := p.files.MarkCompleted(ctx, job.FileName, rows); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "mark file completed")
	}
	filesProcessed.WithLabelValues(StatusCompleted).Inc()
	p.notify(ctx, job, StatusCompleted, rows)
	p.log.Info("bulk file completed", "file", job.FileName, "rows", rows)
	return nil
}

func (p *Processor) run(ctx context.Context, job *Job) (int, error) {
	obj, err := p.objects.Get(ctx, p.unprocessedBucket, job.FileName)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	reader := csv.NewReader(obj)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read csv header")
	}
	cols := indexColumns(header)
	if _, ok := cols["purpose_hash"]; !ok {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "csv missing purpose_hash column")
	}
	if _, ok := cols["data_elements_hash"]; !ok {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "csv missing data_elements_hash column")
	}

	var out bytes.Buffer
	writer := csv.NewWriter(&out)
	if err := writer.Write(resultHeader); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "write result header")
	}

	rows := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read csv row")
		}
		result, err := p.processRow(ctx, job, cols, row)
		if err != nil {
			return 0, err
		}
		if err := writer.Write(result); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "write result row")
		}
		rows++
		rowsProcessed.Inc()
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "flush result csv")
	}

	if err := p.objects.Put(ctx, p.processedBucket, job.FileName, "text/csv", &out); err != nil {
		return 0, err
	}
	return rows, nil
}

// processRow verifies one query. Validation and no-match failures from
// the engine become a result row; anything else aborts the file.
func (p *Processor) processRow(ctx context.Context, job *Job, cols map[string]int, row []string) ([]string, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	req := &verification.Request{
		DPID:         field("dp_id"),
		DPSystemID:   field("dp_system_id"),
		Email:        field("dp_e"),
		Mobile:       field("dp_m"),
		PurposeHash:  field("purpose_hash"),
		DFID:         job.DFID,
		RequestedBy:  job.UserID,
		BulkFileName: job.FileName,
	}
	if raw := field("data_elements_hash"); raw != "" {
		req.DataElementHashes = stringsutil.DedupeAndTrim(strings.Split(raw, elementSeparator))
	}

	echo := []string{
		"", field("dp_id"), field("dp_system_id"), field("dp_e"), field("dp_m"),
		job.FileType, job.UserID, "", "", field("purpose_title"), "",
		artifact.FormatTimestamp(p.now()),
	}

	res, err := p.engine.Verify(ctx, req)
	switch {
	case err == nil:
		echo[0] = res.RequestID
		echo[7] = consentStatus(res.Verified)
		echo[8] = strings.Join(res.ConsentedDataElements, elementSeparator)
		echo[10] = "ok"
	case dErrors.HasCode(err, dErrors.CodeInvalidInput), dErrors.HasCode(err, dErrors.CodeNotFound):
		echo[7] = consentStatus(false)
		echo[10] = err.Error()
	default:
		return nil, err
	}
	return echo, nil
}

func consentStatus(verified bool) string {
	if verified {
		return "approved"
	}
	return "rejected"
}

func (p *Processor) fail(ctx context.Context, job *Job, cause error) {
	detail := cause.Error()
	if err := p.files.MarkFailed(ctx, job.FileName, detail); err != nil {
		p.log.Error("mark file failed", "file", job.FileName, "error", err)
	}
	filesProcessed.WithLabelValues(StatusFailed).Inc()
	p.notify(ctx, job, StatusFailed, 0)
	p.log.Error("bulk file failed", "file", job.FileName, "error", cause)
}

func (p *Processor) notify(ctx context.Context, job *Job, status string, rows int) {
	ev := &events.Event{
		DFID:      job.DFID,
		EventType: events.BulkVerificationDone,
		Timestamp: artifact.FormatTimestamp(p.now()),
		Detail: map[string]any{
			"filename":  job.FileName,
			"status":    status,
			"row_count": rows,
		},
	}
	if err := p.bus.Publish(ctx, ev); err != nil {
		p.log.Error("publish bulk completion event", "file", job.FileName, "error", err)
	}
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}
