package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"webkart/internal/report/models"
	id "webkart/pkg/domain"
	"webkart/pkg/platform/outbox"
	"webkart/pkg/platform/sentinel"
	"webkart/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists reports and their outbox entry in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, report *models.Report, entry outbox.Entry) error {
	return tx.Run(ctx, s.pool, func(ctx context.Context, t pgx.Tx) error {
		_, err := t.Exec(ctx, `
			INSERT INTO reports (id, business_ref, reason, submitted_at)
			VALUES ($1, $2, $3, $4)
		`, report.ID.String(), report.BusinessRef, report.Reason, report.SubmittedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert report: %w", err)
		}
		return outbox.Insert(ctx, t, entry)
	})
}

func (s *PostgresStore) Get(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	var (
		report models.Report
		rawID  string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, business_ref, reason, submitted_at
		FROM reports
		WHERE id = $1
	`, reportID.String()).Scan(&rawID, &report.BusinessRef, &report.Reason, &report.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if report.ID, err = id.ParseReportID(rawID); err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}
