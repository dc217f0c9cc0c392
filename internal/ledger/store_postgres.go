package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"veda/internal/artifact"
)

// PostgresStore persists audit records in PostgreSQL. The snapshot lives
// in a JSONB column; the chain key, version and recorded instant are
// lifted into columns for indexing. Rows are insert-only.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const auditColumns = `id, doc, canonical_record, data_hash, prev_record_hash, record_hash, signature, signed_with_key_id`

func (s *PostgresStore) Tip(ctx context.Context, key artifact.ChainKey) (*Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM consent_audit_logs
		WHERE dp_id = $1 AND df_id = $2 AND cp_id = $3 AND agreement_id = $4
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	rec, err := scanAuditRecord(s.db.QueryRowContext(ctx, query, key.DPID, key.DFID, key.CPID, key.AgreementID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get chain tip: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec.Artifact)
	if err != nil {
		return fmt.Errorf("marshal audit snapshot: %w", err)
	}
	recordedAt, err := artifact.ParseTimestamp(rec.Artifact.Timestamp)
	if err != nil {
		return fmt.Errorf("parse audit timestamp: %w", err)
	}
	key := rec.Key()
	query := `
		INSERT INTO consent_audit_logs (
			dp_id, df_id, cp_id, agreement_id, version, operation, recorded_at,
			doc, canonical_record, data_hash, prev_record_hash, record_hash, signature, signed_with_key_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	var id int64
	err = s.db.QueryRowContext(ctx, query,
		key.DPID, key.DFID, key.CPID, key.AgreementID,
		rec.Artifact.Version, rec.Artifact.Operation, recordedAt.UTC(),
		doc, rec.CanonicalRecord, rec.DataHash, nullIfEmpty(rec.PrevRecordHash),
		rec.RecordHash, rec.Signature, rec.SignedWithKeyID,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	rec.ID = fmt.Sprintf("%d", id)
	return nil
}

func (s *PostgresStore) Chain(ctx context.Context, key artifact.ChainKey) ([]*Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM consent_audit_logs
		WHERE dp_id = $1 AND df_id = $2 AND cp_id = $3 AND agreement_id = $4
		ORDER BY recorded_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, key.DPID, key.DFID, key.CPID, key.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	defer rows.Close()
	return collectAuditRecords(rows)
}

func (s *PostgresStore) CountChain(ctx context.Context, key artifact.ChainKey) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM consent_audit_logs
		WHERE dp_id = $1 AND df_id = $2 AND cp_id = $3 AND agreement_id = $4
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, key.DPID, key.DFID, key.CPID, key.AgreementID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chain: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ChainsForPrincipal(ctx context.Context, dpID, dfID string) ([]*Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM consent_audit_logs
		WHERE dp_id = $1 AND df_id = $2
		ORDER BY agreement_id, recorded_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, dpID, dfID)
	if err != nil {
		return nil, fmt.Errorf("load principal chains: %w", err)
	}
	defer rows.Close()
	return collectAuditRecords(rows)
}

type auditRow interface {
	Scan(dest ...any) error
}

func scanAuditRecord(row auditRow) (*Record, error) {
	var (
		rec      Record
		id       int64
		doc      []byte
		prevHash sql.NullString
	)
	if err := row.Scan(&id, &doc, &rec.CanonicalRecord, &rec.DataHash, &prevHash,
		&rec.RecordHash, &rec.Signature, &rec.SignedWithKeyID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &rec.Artifact); err != nil {
		return nil, fmt.Errorf("unmarshal audit snapshot: %w", err)
	}
	rec.ID = fmt.Sprintf("%d", id)
	if prevHash.Valid {
		rec.PrevRecordHash = prevHash.String
	}
	return &rec, nil
}

func collectAuditRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
