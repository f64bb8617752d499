package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Catalog ---

const contentColumns = `id, title, duration_seconds, source_url, is_active, has_transcript, has_vectors, created_at, updated_at`

func scanContent(row pgx.Row) (*models.ContentItem, error) {
	var c models.ContentItem
	err := row.Scan(&c.ID, &c.Title, &c.DurationSeconds, &c.SourceURL, &c.IsActive,
		&c.HasTranscript, &c.HasVectors, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContent records a catalog create or update event. Derived flags are
// never taken from the caller.
func (s *PostgresStore) UpsertContent(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	c, err := scanContent(s.pool.QueryRow(ctx,
		`INSERT INTO content_items (id, title, duration_seconds, source_url, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   duration_seconds = EXCLUDED.duration_seconds,
		   source_url = EXCLUDED.source_url,
		   is_active = EXCLUDED.is_active,
		   updated_at = NOW()
		 RETURNING `+contentColumns,
		item.ID, item.Title, item.DurationSeconds, item.SourceURL, item.IsActive))
	if err != nil {
		return nil, fmt.Errorf("upsert content: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id int64) (*models.ContentItem, error) {
	c, err := scanContent(s.pool.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SetContentActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE content_items SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set content active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteContent removes the catalog row only. Dependent transcripts, vectors
// and jobs are left for the reconciler's orphan sweep.
func (s *PostgresStore) DeleteContent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM content_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListContentFlags(ctx context.Context) ([]*models.ContentItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contentColumns+` FROM content_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list content flags: %w", err)
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SyncTranscriptFlags(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE content_items c
		 SET has_transcript = e.has, updated_at = NOW()
		 FROM (
		   SELECT ci.id, EXISTS (SELECT 1 FROM transcript_segments t WHERE t.content_id = ci.id) AS has
		   FROM content_items ci
		 ) e
		 WHERE c.id = e.id AND c.has_transcript <> e.has
		 RETURNING c.id`)
	if err != nil {
		return nil, fmt.Errorf("sync transcript flags: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("sync transcript flags: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) SetVectorFlags(ctx context.Context, ids []int64, value bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE content_items SET has_vectors = $2, updated_at = NOW()
		 WHERE id = ANY($1) AND has_vectors <> $2`, ids, value)
	if err != nil {
		return 0, fmt.Errorf("set vector flags: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
