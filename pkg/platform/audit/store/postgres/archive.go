package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"webkart/pkg/platform/audit/consumer"
)

// Archive is the long-term audit table fed by the Kafka consumer.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Archive inserts record; redelivered ids are ignored.
func (a *Archive) Archive(ctx context.Context, record consumer.Record) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_events (id, category, action, session_id, subject, step, reason, request_id, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
		ON CONFLICT (id) DO NOTHING
	`, record.ID, string(record.Category), record.Action, record.SessionID, record.Subject,
		record.Step, record.Reason, record.RequestID, record.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
