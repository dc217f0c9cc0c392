package scheduler

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRenewalStore backs RenewalStore with the
// renewal_notifications table.
type PostgresRenewalStore struct {
	db *sql.DB
}

func NewPostgresRenewals(db *sql.DB) *PostgresRenewalStore {
	return &PostgresRenewalStore{db: db}
}

func (s *PostgresRenewalStore) Insert(ctx context.Context, n *RenewalNotification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO renewal_notifications
			(id, consent_artifact_id, dp_id, df_id, data_element_id, purpose_id, notification_type, expiry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.ArtifactID, n.DPID, n.DFID, n.DataElementID, n.PurposeID,
		n.NotificationType, n.ExpiryAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert renewal notification: %w", err)
	}
	return nil
}
