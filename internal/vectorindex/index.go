// Package vectorindex writes embedded transcript chunks to a pgvector table.
// Every write is a full replacement of one content item's entries, so retries
// and duplicate runs converge on a single live generation.
package vectorindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// MigrationsTable keeps vector schema versions apart from the job store's
// when both live in one database.
const MigrationsTable = "vector_schema_migrations"

// Index is the vector store as seen by workers and the reconciler.
type Index interface {
	// Replace atomically swaps the entries for contentID with entries.
	Replace(ctx context.Context, contentID int64, entries []models.VectorEntry) (uuid.UUID, error)
	DeleteAll(ctx context.Context, contentID int64) (int, error)
	ContentIDs(ctx context.Context) ([]int64, error)
	Count(ctx context.Context, contentID int64) (int, error)
	// StaleGenerations lists every generation that is not the newest for its content id.
	StaleGenerations(ctx context.Context) ([]Generation, error)
	DeleteGeneration(ctx context.Context, g Generation) (int, error)
	Ping(ctx context.Context) error
}

// Generation identifies one complete write of a content item's entries.
type Generation struct {
	ContentID int64     `json:"content_id"`
	ID        uuid.UUID `json:"generation"`
}

var nonIdent = regexp.MustCompile(`[^a-z0-9]+`)

// CollectionName derives the collection from the embedding model and
// dimension, e.g. "nomic_embed_text_768".
func CollectionName(model string, dimensions int) string {
	m := strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(model), "_"), "_")
	return fmt.Sprintf("%s_%d", m, dimensions)
}

// Connect opens the vector database pool with pgvector types registered on
// every connection. Migrations must already have created the extension.
func Connect(ctx context.Context, cfg config.VectorDBConfig) (*pgxpool.Pool, error) {
	return store.Connect(ctx, config.DatabaseConfig{URL: cfg.URL, MaxOpenConns: cfg.MaxOpenConns},
		func(pc *pgxpool.Config) {
			pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				return pgxvec.RegisterTypes(ctx, conn)
			}
		})
}

// PgvectorIndex implements Index on a pgvector table.
type PgvectorIndex struct {
	pool       *pgxpool.Pool
	collection string
	dimensions int
}

func NewPgvectorIndex(pool *pgxpool.Pool, collection string, dimensions int) *PgvectorIndex {
	return &PgvectorIndex{pool: pool, collection: collection, dimensions: dimensions}
}

func (x *PgvectorIndex) Collection() string { return x.collection }

func (x *PgvectorIndex) Ping(ctx context.Context) error {
	return x.pool.Ping(ctx)
}

func (x *PgvectorIndex) Replace(ctx context.Context, contentID int64, entries []models.VectorEntry) (uuid.UUID, error) {
	for i, e := range entries {
		if len(e.Embedding) != x.dimensions {
			return uuid.Nil, fmt.Errorf("replace vectors: entry %d has %d dimensions, collection %s expects %d",
				i, len(e.Embedding), x.collection, x.dimensions)
		}
	}

	gen := uuid.New()
	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("replace vectors: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(entries) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"vector_entries"},
			[]string{"collection", "content_id", "generation", "chunk_order", "start_time", "end_time", "text", "embedding"},
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{x.collection, contentID, gen, e.Order, e.Start, e.End, e.Text,
					pgvector.NewVector(e.Embedding)}, nil
			}))
		if err != nil {
			return uuid.Nil, fmt.Errorf("replace vectors: insert: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM vector_entries WHERE collection = $1 AND content_id = $2 AND generation <> $3`,
		x.collection, contentID, gen); err != nil {
		return uuid.Nil, fmt.Errorf("replace vectors: drop old generations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("replace vectors: commit: %w", err)
	}
	return gen, nil
}

func (x *PgvectorIndex) DeleteAll(ctx context.Context, contentID int64) (int, error) {
	tag, err := x.pool.Exec(ctx,
		`DELETE FROM vector_entries WHERE collection = $1 AND content_id = $2`, x.collection, contentID)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (x *PgvectorIndex) ContentIDs(ctx context.Context) ([]int64, error) {
	rows, err := x.pool.Query(ctx,
		`SELECT DISTINCT content_id FROM vector_entries WHERE collection = $1 ORDER BY content_id`, x.collection)
	if err != nil {
		return nil, fmt.Errorf("list vector content ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("list vector content ids: %w", err)
	}
	return ids, nil
}

func (x *PgvectorIndex) Count(ctx context.Context, contentID int64) (int, error) {
	var n int
	err := x.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vector_entries WHERE collection = $1 AND content_id = $2`,
		x.collection, contentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (x *PgvectorIndex) StaleGenerations(ctx context.Context) ([]Generation, error) {
	rows, err := x.pool.Query(ctx,
		`WITH gens AS (
		   SELECT content_id, generation, MAX(created_at) AS written_at
		   FROM vector_entries WHERE collection = $1
		   GROUP BY content_id, generation
		 ), ranked AS (
		   SELECT content_id, generation,
		          ROW_NUMBER() OVER (PARTITION BY content_id ORDER BY written_at DESC, generation) AS rn
		   FROM gens
		 )
		 SELECT content_id, generation FROM ranked WHERE rn > 1 ORDER BY content_id`, x.collection)
	if err != nil {
		return nil, fmt.Errorf("stale generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var g Generation
		if err := rows.Scan(&g.ContentID, &g.ID); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (x *PgvectorIndex) DeleteGeneration(ctx context.Context, g Generation) (int, error) {
	tag, err := x.pool.Exec(ctx,
		`DELETE FROM vector_entries WHERE collection = $1 AND content_id = $2 AND generation = $3`,
		x.collection, g.ContentID, g.ID)
	if err != nil {
		return 0, fmt.Errorf("delete generation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
