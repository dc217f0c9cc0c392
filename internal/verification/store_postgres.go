package verification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresLogStore persists verification trails in PostgreSQL.
type PostgresLogStore struct {
	db *sql.DB
}

func NewPostgresLogs(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

const logColumns = `request_id, df_id, dp_id, dp_system_id, dp_e, dp_m, purpose_hash, data_element_hashes, matched_elements, verified, requested_by, bulk_file_name, created_at`

func (s *PostgresLogStore) Insert(ctx context.Context, rec *LogRecord) error {
	query := `
		INSERT INTO consent_verification_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.RequestID, rec.DFID, rec.DPID, rec.DPSystemID, rec.EmailHash, rec.MobileHash,
		rec.PurposeHash, pq.Array(rec.DataElementHashes), pq.Array(rec.MatchedElements),
		rec.Verified, rec.RequestedBy, rec.BulkFileName, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification log: %w", err)
	}
	return nil
}

func (s *PostgresLogStore) GetByRequestID(ctx context.Context, requestID string) (*LogRecord, error) {
	query := `SELECT ` + logColumns + ` FROM consent_verification_logs WHERE request_id = $1`
	rec, err := scanLogRecord(s.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get verification log: %w", err)
	}
	return rec, nil
}

func (s *PostgresLogStore) List(ctx context.Context, filter LogFilter) ([]*LogRecord, error) {
	query := `SELECT ` + logColumns + ` FROM consent_verification_logs WHERE df_id = $1`
	args := []any{filter.DFID}
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		query += fmt.Sprintf(" AND verified = $%d", len(args))
	}
	if filter.BulkFileName != "" {
		args = append(args, filter.BulkFileName)
		query += fmt.Sprintf(" AND bulk_file_name = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification logs: %w", err)
	}
	defer rows.Close()

	var out []*LogRecord
	for rows.Next() {
		rec, err := scanLogRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification log: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification logs: %w", err)
	}
	return out, nil
}

func (s *PostgresLogStore) Stats(ctx context.Context, dfID string) (*Stats, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE verified), COUNT(*) FILTER (WHERE NOT verified)
		FROM consent_verification_logs
		WHERE df_id = $1
	`
	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, dfID).Scan(&stats.Total, &stats.Valid, &stats.Invalid); err != nil {
		return nil, fmt.Errorf("aggregate verification stats: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Valid) / float64(stats.Total)
	}
	return &stats, nil
}

type logRow interface {
	Scan(dest ...any) error
}

func scanLogRecord(row logRow) (*LogRecord, error) {
	var (
		rec       LogRecord
		hashes    pq.StringArray
		matched   pq.StringArray
		createdAt time.Time
	)
	if err := row.Scan(&rec.RequestID, &rec.DFID, &rec.DPID, &rec.DPSystemID, &rec.EmailHash, &rec.MobileHash,
		&rec.PurposeHash, &hashes, &matched, &rec.Verified, &rec.RequestedBy, &rec.BulkFileName, &createdAt); err != nil {
		return nil, err
	}
	rec.DataElementHashes = hashes
	rec.MatchedElements = matched
	rec.CreatedAt = createdAt
	return &rec, nil
}

// PostgresNotificationStore queues customer notifications in PostgreSQL.
type PostgresNotificationStore struct {
	db *sql.DB
}

func NewPostgresNotifications(db *sql.DB) *PostgresNotificationStore {
	return &PostgresNotificationStore{db: db}
}

func (s *PostgresNotificationStore) Insert(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO customer_notifications (dp_id, df_id, request_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, n.DPID, n.DFID, n.RequestID, n.Reason, n.CreatedAt); err != nil {
		return fmt.Errorf("insert customer notification: %w", err)
	}
	return nil
}
