package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"basegraph.app/digest/internal/model"
)

const reportColumns = `id, session_id, backend, filter, markdown, html, qualified,
	removed_security, removed_confidential, removed_duplicates, removed_invalid, created_at`

type reportStore struct {
	pool *pgxpool.Pool
}

func NewReportStore(pool *pgxpool.Pool) ReportStore {
	return &reportStore{pool: pool}
}

func (s *reportStore) Create(ctx context.Context, r *model.Report) error {
	filter, err := json.Marshal(r.Filter)
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO reports (id, session_id, backend, filter, markdown, html, qualified,
			removed_security, removed_confidential, removed_duplicates, removed_invalid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		r.ID, r.SessionID, r.Backend, filter, r.Markdown, r.HTML, r.Qualified,
		r.Removed.Security, r.Removed.Confidential, r.Removed.Duplicates, r.Removed.Invalid,
	)
	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

func (s *reportStore) GetByID(ctx context.Context, id int64) (*model.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return r, nil
}

func (s *reportStore) ListRecent(ctx context.Context, limit int) ([]model.Report, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return reports, nil
}

func scanReport(row pgx.Row) (*model.Report, error) {
	var (
		r      model.Report
		filter []byte
	)
	if err := row.Scan(
		&r.ID, &r.SessionID, &r.Backend, &filter, &r.Markdown, &r.HTML, &r.Qualified,
		&r.Removed.Security, &r.Removed.Confidential, &r.Removed.Duplicates, &r.Removed.Invalid,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &r.Filter); err != nil {
			return nil, fmt.Errorf("decoding filter: %w", err)
		}
	}
	return &r, nil
}
