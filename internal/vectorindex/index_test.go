package vectorindex_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/internal/vectorindex"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const dims = 3

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations", "vector")
}

func setupIndex(t *testing.T) *vectorindex.PgvectorIndex {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("vectors_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(connStr, migrationsDir(), vectorindex.MigrationsTable))

	pool, err := vectorindex.Connect(ctx, config.VectorDBConfig{URL: connStr, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return vectorindex.NewPgvectorIndex(pool, vectorindex.CollectionName("test-model", dims), dims)
}

func entries(n int, seed float32) []models.VectorEntry {
	out := make([]models.VectorEntry, n)
	for i := range out {
		out[i] = models.VectorEntry{
			Order: i, Start: float64(i * 10), End: float64(i*10 + 10), Text: "chunk",
			Embedding: []float32{seed, float32(i), 1},
		}
	}
	return out
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "nomic_embed_text_768", vectorindex.CollectionName("nomic-embed-text", 768))
	assert.Equal(t, "models_text_embedding_004_768", vectorindex.CollectionName("models/Text-Embedding-004", 768))
}

func TestReplace_IsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	idx := setupIndex(t)
	ctx := context.Background()

	_, err := idx.Replace(ctx, 42, entries(5, 0.1))
	require.NoError(t, err)
	_, err = idx.Replace(ctx, 42, entries(3, 0.2))
	require.NoError(t, err)

	n, err := idx.Count(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stale, err := idx.StaleGenerations(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestReplace_RejectsWrongDimension(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	idx := setupIndex(t)
	ctx := context.Background()

	bad := entries(1, 0)
	bad[0].Embedding = []float32{1, 2}
	_, err := idx.Replace(ctx, 1, bad)
	require.Error(t, err)

	n, err := idx.Count(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAll_AndContentIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	idx := setupIndex(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := idx.Replace(ctx, id, entries(2, float32(id)))
		require.NoError(t, err)
	}

	removed, err := idx.DeleteAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = idx.DeleteAll(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, removed)

	ids, err := idx.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}
