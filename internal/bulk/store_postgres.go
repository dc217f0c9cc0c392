package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const fileColumns = "file_name, df_id, requested_by, file_type, status, row_count, error_detail, created_at, updated_at"

// PostgresFileStore backs FileStore with the consent_verification_files
// table.
type PostgresFileStore struct {
	db *sql.DB
}

func NewPostgresFiles(db *sql.DB) *PostgresFileStore {
	return &PostgresFileStore{db: db}
}

func (s *PostgresFileStore) Insert(ctx context.Context, rec *FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_verification_files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.FileName, rec.DFID, rec.RequestedBy, rec.FileType, rec.Status,
		rec.RowCount, rec.ErrorDetail, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

func (s *PostgresFileStore) Get(ctx context.Context, fileName string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+`
		FROM consent_verification_files
		WHERE file_name = $1`, fileName)
	rec, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file record: %w", err)
	}
	return rec, nil
}

func (s *PostgresFileStore) List(ctx context.Context, dfID string) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+`
		FROM consent_verification_files
		WHERE df_id = $1
		ORDER BY created_at DESC`, dfID)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return out, nil
}

func (s *PostgresFileStore) MarkProcessing(ctx context.Context, fileName string) error {
	return s.setStatus(ctx, fileName, StatusProcessing, 0, "")
}

func (s *PostgresFileStore) MarkCompleted(ctx context.Context, fileName string, rowCount int) error {
	return s.setStatus(ctx, fileName, StatusCompleted, rowCount, "")
}

func (s *PostgresFileStore) MarkFailed(ctx context.Context, fileName, detail string) error {
	return s.setStatus(ctx, fileName, StatusFailed, 0, detail)
}

func (s *PostgresFileStore) setStatus(ctx context.Context, fileName, status string, rowCount int, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE consent_verification_files
		SET status = $2, row_count = $3, error_detail = $4, updated_at = $5
		WHERE file_name = $1`,
		fileName, status, rowCount, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update file record status: %w", err)
	}
	return nil
}

func scanFileRecord(row interface{ Scan(dest ...any) error }) (*FileRecord, error) {
	var rec FileRecord
	err := row.Scan(
		&rec.FileName, &rec.DFID, &rec.RequestedBy, &rec.FileType, &rec.Status,
		&rec.RowCount, &rec.ErrorDetail, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
