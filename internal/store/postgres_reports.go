package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func (s *PostgresStore) SaveReport(ctx context.Context, r *models.ConsistencyReport) error {
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return fmt.Errorf("encode report categories: %w", err)
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode report errors: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO consistency_reports (id, started_at, finished_at, categories, errors)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.StartedAt, r.FinishedAt, categories, errorsJSON)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func scanReport(row pgx.Row) (*models.ConsistencyReport, error) {
	var r models.ConsistencyReport
	var categories, errs []byte
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &categories, &errs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(categories, &r.Categories); err != nil {
		return nil, fmt.Errorf("decode report categories: %w", err)
	}
	if err := json.Unmarshal(errs, &r.Errors); err != nil {
		return nil, fmt.Errorf("decode report errors: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) LatestReport(ctx context.Context) (*models.ConsistencyReport, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT id, started_at, finished_at, categories, errors
		 FROM consistency_reports ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, limit int) ([]*models.ConsistencyReport, error) {
	limit, _ = pagination(1, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, categories, errors
		 FROM consistency_reports ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*models.ConsistencyReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
