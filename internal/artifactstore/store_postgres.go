package artifactstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veda/internal/artifact"
	dErrors "veda/pkg/domain-errors"
)

// PostgresStore keeps the latest artifact per chain in a JSONB column
// with the chain key and version lifted into columns. Conditional
// updates run as single statements; FindOneAndUpdate takes a row lock.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key artifact.ChainKey) (*artifact.Artifact, error) {
	query := `
		SELECT doc FROM consent_latest_artifacts
		WHERE dp_id = $1 AND df_id = $2 AND cp_id = $3 AND agreement_id = $4
	`
	return s.queryOne(ctx, query, key.DPID, key.DFID, key.CPID, key.AgreementID)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*artifact.Artifact, error) {
	return s.queryOne(ctx, `SELECT doc FROM consent_latest_artifacts WHERE id = $1`, id)
}

func (s *PostgresStore) GetByAgreement(ctx context.Context, agreementID string) (*artifact.Artifact, error) {
	return s.queryOne(ctx, `SELECT doc FROM consent_latest_artifacts WHERE agreement_id = $1`, agreementID)
}

func (s *PostgresStore) Upsert(ctx context.Context, key artifact.ChainKey, a *artifact.Artifact, expectedVersion int) (*artifact.Artifact, error) {
	post := a.Clone()
	if expectedVersion == 0 {
		post.ID = uuid.NewString()
		post.Version = 1
		doc, err := json.Marshal(post)
		if err != nil {
			return nil, fmt.Errorf("marshal artifact: %w", err)
		}
		query := `
			INSERT INTO consent_latest_artifacts (id, dp_id, df_id, cp_id, agreement_id, version, updated_at, doc)
			VALUES ($1, $2, $3, $4, $5, 1, NOW(), $6)
			ON CONFLICT (dp_id, df_id, cp_id, agreement_id) DO NOTHING
		`
		res, err := s.db.ExecContext(ctx, query, post.ID, key.DPID, key.DFID, key.CPID, key.AgreementID, doc)
		if err != nil {
			return nil, fmt.Errorf("insert artifact: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert artifact rows affected: %w", err)
		}
		if rows == 0 {
			return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s already has an artifact", key.String())
		}
		return post, nil
	}

	post.Version = expectedVersion + 1
	// carry the existing row id into the post-image
	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s has no artifact to update", key.String())
	}
	post.ID = existing.ID
	doc, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	query := `
		UPDATE consent_latest_artifacts
		SET doc = $1, version = $2, updated_at = NOW()
		WHERE dp_id = $3 AND df_id = $4 AND cp_id = $5 AND agreement_id = $6 AND version = $7
	`
	res, err := s.db.ExecContext(ctx, query, doc, post.Version, key.DPID, key.DFID, key.CPID, key.AgreementID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update artifact: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update artifact rows affected: %w", err)
	}
	if rows == 0 {
		return nil, dErrors.Newf(dErrors.CodeStaleUpdate, "chain %s moved past version %d", key.String(), expectedVersion)
	}
	return post, nil
}

func (s *PostgresStore) FindOneAndUpdate(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error) {
	return s.conditionalUpdate(ctx, id, predicate, mutate, true)
}

func (s *PostgresStore) Patch(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact)) (*artifact.Artifact, error) {
	return s.conditionalUpdate(ctx, id, predicate, mutate, false)
}

func (s *PostgresStore) conditionalUpdate(ctx context.Context, id string, predicate func(*artifact.Artifact) bool, mutate func(*artifact.Artifact), bumpVersion bool) (*artifact.Artifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin conditional update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM consent_latest_artifacts WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock artifact row: %w", err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	if !predicate(&a) {
		return nil, nil
	}
	mutate(&a)
	if bumpVersion {
		a.Version++
	}
	updated, err := json.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE consent_latest_artifacts SET doc = $1, version = $2, updated_at = NOW() WHERE id = $3`,
		updated, a.Version, id); err != nil {
		return nil, fmt.Errorf("apply conditional update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conditional update: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, field IdentifierField, value, dfID string) ([]*artifact.Artifact, error) {
	switch field {
	case ByDPID, ByDPSystemID, ByEmailHash, ByMobileHash:
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown identifier field %q", field)
	}
	query := fmt.Sprintf(`
		SELECT doc FROM consent_latest_artifacts
		WHERE df_id = $1 AND doc->'data_principal'->>'%s' = $2
	`, field)
	rows, err := s.db.QueryContext(ctx, query, dfID, value)
	if err != nil {
		return nil, fmt.Errorf("find artifacts by identifier: %w", err)
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *PostgresStore) ScanExpiringConsents(ctx context.Context, cutoff time.Time) ([]*artifact.Artifact, error) {
	query := `
		SELECT doc FROM consent_latest_artifacts
		WHERE EXISTS (
			SELECT 1
			FROM jsonb_array_elements(doc->'consent_scope'->'data_elements') de,
			     jsonb_array_elements(de->'consents') c
			WHERE c->>'consent_status' = 'approved'
			  AND COALESCE(c->>'consent_expiry_period', '') <> ''
			  AND (c->>'consent_expiry_period')::timestamptz < $1
			  AND COALESCE((c->>'consent_expiry_notification_sent')::boolean, FALSE) = FALSE
		)
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan expiring consents: %w", err)
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *PostgresStore) ScanExpiringRetention(ctx context.Context, cutoff time.Time) ([]*artifact.Artifact, error) {
	query := `
		SELECT doc FROM consent_latest_artifacts
		WHERE EXISTS (
			SELECT 1
			FROM jsonb_array_elements(doc->'consent_scope'->'data_elements') de
			WHERE de->>'de_status' = 'active'
			  AND COALESCE(de->>'data_retention_period', '') <> ''
			  AND (de->>'data_retention_period')::timestamptz < $1
			  AND COALESCE((de->>'data_retention_notification_sent')::boolean, FALSE) = FALSE
		)
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan expiring retention: %w", err)
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *PostgresStore) All(ctx context.Context) ([]*artifact.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM consent_latest_artifacts`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*artifact.Artifact, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &a, nil
}

func collectArtifacts(rows *sql.Rows) ([]*artifact.Artifact, error) {
	var out []*artifact.Artifact
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		var a artifact.Artifact
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("unmarshal artifact: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}
