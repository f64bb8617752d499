package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

const approvalColumns = `id, content_id, job_id, purpose, estimated_cost, status, reason,
	requested_at, expires_at, decided_at, decided_by`

func scanApproval(row pgx.Row) (*models.CostApproval, error) {
	var a models.CostApproval
	err := row.Scan(&a.ID, &a.ContentID, &a.JobID, &a.Purpose, &a.EstimatedCost, &a.Status,
		&a.Reason, &a.RequestedAt, &a.ExpiresAt, &a.DecidedAt, &a.DecidedBy)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectApprovals(rows pgx.Rows, err error, op string) ([]*models.CostApproval, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.CostApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan approval: %w", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) CreateApproval(ctx context.Context, a *models.CostApproval) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_approvals (id, content_id, job_id, purpose, estimated_cost, status, reason, requested_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ContentID, a.JobID, a.Purpose, a.EstimatedCost, a.Status, a.Reason, a.RequestedAt, a.ExpiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, id uuid.UUID) (*models.CostApproval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM cost_approvals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindOpenApproval(ctx context.Context, jobID uuid.UUID, purpose models.Purpose) (*models.CostApproval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM cost_approvals
		 WHERE job_id = $1 AND purpose = $2 AND status IN ('pending', 'approved')
		 ORDER BY requested_at DESC LIMIT 1`, jobID, purpose))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open approval: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) DecideApproval(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, decidedBy, reason string) (*models.CostApproval, error) {
	if status != models.ApprovalApproved && status != models.ApprovalRejected {
		return nil, fmt.Errorf("decide approval: invalid status %q", status)
	}
	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`UPDATE cost_approvals
		 SET status = $2, decided_by = $3, reason = COALESCE($4, reason), decided_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns, id, status, decidedBy, reasonArg))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	current, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrAlreadyDecided
}

func (s *PostgresStore) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.CostApproval, error) {
	limit, _ = pagination(1, limit)
	if status == "" {
		rows, err := s.pool.Query(ctx,
			`SELECT `+approvalColumns+` FROM cost_approvals ORDER BY requested_at DESC LIMIT $1`, limit)
		return collectApprovals(rows, err, "list approvals")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM cost_approvals WHERE status = $1 ORDER BY requested_at DESC LIMIT $2`,
		status, limit)
	return collectApprovals(rows, err, "list approvals")
}

func (s *PostgresStore) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.CostApproval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM cost_approvals
		 WHERE status = 'pending' AND expires_at <= $1 ORDER BY expires_at`, now)
	return collectApprovals(rows, err, "list expired approvals")
}
