package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the job store migrations.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations", "jobs")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("castkeeper_test"),
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

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedContent(t *testing.T, s store.Store, id int64, active bool) {
	t.Helper()
	_, err := s.UpsertContent(context.Background(), &models.ContentItem{
		ID: id, Title: fmt.Sprintf("video %d", id), DurationSeconds: 600, IsActive: active,
	})
	require.NoError(t, err)
}

func segments(n int) []models.TranscriptSegment {
	segs := make([]models.TranscriptSegment, n)
	for i := range segs {
		segs[i] = models.TranscriptSegment{Start: float64(i), End: float64(i) + 1, Text: fmt.Sprintf("line %d", i)}
	}
	return segs
}

// --- Catalog ---

func TestContent_UpsertKeepsDerivedFlags(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedContent(t, s, 1, true)
	_, err := pool.Exec(ctx, `UPDATE content_items SET has_transcript = TRUE WHERE id = 1`)
	require.NoError(t, err)

	got, err := s.UpsertContent(ctx, &models.ContentItem{ID: 1, Title: "renamed", IsActive: true, HasTranscript: false})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.HasTranscript)
}

func TestContent_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.GetContent(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetContentActive(ctx, 404, false), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteContent(ctx, 404), store.ErrNotFound)
}

// --- Queue ---

func TestEnqueue_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 42, true)

	first, created, err := s.Enqueue(ctx, 42, models.KindTranscribe, 0)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.Enqueue(ctx, 42, models.KindTranscribe, 5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, total, err := s.ListJobs(ctx, store.JobFilter{ContentID: 42})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestEnqueue_ConcurrentCallersShareOneJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 7, true)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, _, err := s.Enqueue(ctx, 7, models.KindTranscribe, 0)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestClaim_ExclusiveUnderConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		seedContent(t, s, id, true)
		_, _, err := s.Enqueue(ctx, id, models.KindTranscribe, 0)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[uuid.UUID]string{}
		misses  int
	)
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			worker := fmt.Sprintf("test-transcribe-%d", w)
			job, err := s.ClaimJob(ctx, models.KindTranscribe, worker)
			mu.Lock()
			defer mu.Unlock()
			if err == store.ErrNoJob {
				misses++
				return
			}
			if assert.NoError(t, err) {
				_, dup := claimed[job.ID]
				assert.False(t, dup, "job %s claimed twice", job.ID)
				claimed[job.ID] = worker
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, 5)
	assert.Equal(t, 15, misses)
}

func TestClaim_SkipsInactiveContentAndHonorsPriority(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedContent(t, s, 1, false)
	seedContent(t, s, 2, true)
	seedContent(t, s, 3, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 100)
	require.NoError(t, err)
	_, _, err = s.Enqueue(ctx, 2, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, _, err = s.Enqueue(ctx, 3, models.KindTranscribe, 10)
	require.NoError(t, err)

	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), job.ContentID)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "w1", *job.Owner)

	job, err = s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), job.ContentID)

	_, err = s.ClaimJob(ctx, models.KindTranscribe, "w1")
	assert.ErrorIs(t, err, store.ErrNoJob)
}

func TestCompleteTranscription_WritesSegmentsAndEnqueuesEmbed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 42, true)

	_, _, err := s.Enqueue(ctx, 42, models.KindTranscribe, 3)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)

	require.NoError(t, s.CompleteTranscription(ctx, job.ID, "w1", segments(4)))

	item, err := s.GetContent(ctx, 42)
	require.NoError(t, err)
	assert.True(t, item.HasTranscript)

	segs, err := s.ListSegments(ctx, 42)
	require.NoError(t, err)
	require.Len(t, segs, 4)
	assert.Equal(t, 3, segs[3].Order)

	done, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	embeds, _, err := s.ListJobs(ctx, store.JobFilter{ContentID: 42, Kind: models.KindChunkEmbed})
	require.NoError(t, err)
	require.Len(t, embeds, 1)
	assert.Equal(t, models.JobStatusPending, embeds[0].Status)
	assert.Equal(t, 3, embeds[0].Priority)
}

func TestComplete_ConflictAfterReset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)

	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)

	reset, err := s.ResetStaleJobs(ctx, time.Now().Add(time.Minute), 3)
	require.NoError(t, err)
	require.Len(t, reset, 1)

	err = s.CompleteTranscription(ctx, job.ID, "w1", segments(2))
	assert.ErrorIs(t, err, store.ErrClaimConflict)
	assert.ErrorIs(t, s.HeartbeatJob(ctx, job.ID, "w1"), store.ErrClaimConflict)

	item, err := s.GetContent(ctx, 1)
	require.NoError(t, err)
	assert.False(t, item.HasTranscript, "rolled back completion must not set the flag")
}

func TestFailJob_TransientRetriesThenExhausts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)

	failure := store.JobFailure{Kind: models.ErrorKindTransient, Message: "engine down", MaxRetries: 2}
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
		require.NoError(t, err)
		failed, err := s.FailJob(ctx, job.ID, "w1", failure)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, failed.Status)
		assert.Equal(t, attempt, failed.RetryCount)
		assert.Nil(t, failed.Owner)
	}

	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	failed, err := s.FailJob(ctx, job.ID, "w1", failure)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorKind)
	assert.Equal(t, models.ErrorKindRetriesExhausted, *failed.ErrorKind)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "engine down", *failed.ErrorMessage)
}

func TestFailJob_PreconditionIsTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindChunkEmbed, 0)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindChunkEmbed, "w1")
	require.NoError(t, err)

	failed, err := s.FailJob(ctx, job.ID, "w1", store.JobFailure{
		Kind: models.ErrorKindPrecondition, Message: "no transcript", MaxRetries: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, models.ErrorKindPrecondition, *failed.ErrorKind)

	_, err = s.FailJob(ctx, job.ID, "w1", store.JobFailure{Kind: models.ErrorKindTransient})
	assert.ErrorIs(t, err, store.ErrClaimConflict)
}

func TestResetStaleJobs_ConcurrentResetsIncrementOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)

	cutoff := time.Now().Add(time.Minute)
	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reset, err := s.ResetStaleJobs(ctx, cutoff, 3)
			if assert.NoError(t, err) {
				counts[i] = len(reset)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 1, total)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, models.ErrorMessageInterrupted, *got.ErrorMessage)
}

func TestResetStaleJobs_HeartbeatKeepsJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE processing_jobs SET started_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.HeartbeatJob(ctx, job.ID, "w1"))

	reset, err := s.ResetStaleJobs(ctx, time.Now().Add(-30*time.Minute), 3)
	require.NoError(t, err)
	assert.Empty(t, reset)
}

func TestLiveJobContentIDs_ExcludesStalledAndPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		seedContent(t, s, id, true)
		_, _, err := s.Enqueue(ctx, id, models.KindChunkEmbed, 0)
		require.NoError(t, err)
	}
	live, err := s.ClaimJob(ctx, models.KindChunkEmbed, "w1")
	require.NoError(t, err)
	stalled, err := s.ClaimJob(ctx, models.KindChunkEmbed, "w2")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE processing_jobs SET started_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, stalled.ID)
	require.NoError(t, err)

	ids, err := s.LiveJobContentIDs(ctx, models.KindChunkEmbed, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{live.ContentID}, ids)
}

func TestPurgeFinishedJobs_KeepsFailedAndRecent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	seedContent(t, s, 2, true)

	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	done, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteTranscription(ctx, done.ID, "w1", segments(1)))
	cancelled, err := s.CancelJobsForContent(ctx, 1, "content deactivated")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	_, _, err = s.Enqueue(ctx, 2, models.KindChunkEmbed, 0)
	require.NoError(t, err)
	failed, err := s.ClaimJob(ctx, models.KindChunkEmbed, "w1")
	require.NoError(t, err)
	_, err = s.FailJob(ctx, failed.ID, "w1", store.JobFailure{Kind: models.ErrorKindPrecondition, Message: "no transcript"})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE processing_jobs SET completed_at = NOW() - INTERVAL '10 days', updated_at = NOW() - INTERVAL '10 days'`)
	require.NoError(t, err)

	_, _, err = s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	recent, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteTranscription(ctx, recent.ID, "w1", segments(1)))

	n, err := s.PurgeFinishedJobs(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetJob(ctx, done.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(ctx, cancelled[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(ctx, failed.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, recent.ID)
	assert.NoError(t, err)

	n, err = s.PurgeFinishedJobs(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetOwnedJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	seedContent(t, s, 2, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, _, err = s.Enqueue(ctx, 2, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, models.KindTranscribe, "node-a-transcribe-0")
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, models.KindTranscribe, "node-b-transcribe-0")
	require.NoError(t, err)

	reset, err := s.ResetOwnedJobs(ctx, []string{"node-a-transcribe-0"}, 3)
	require.NoError(t, err)
	require.Len(t, reset, 1)
	assert.Equal(t, models.JobStatusPending, reset[0].Status)

	stats, err := s.JobStats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats, models.JobStat{Kind: models.KindTranscribe, Status: models.JobStatusProcessing, Count: 1})
	assert.Contains(t, stats, models.JobStat{Kind: models.KindTranscribe, Status: models.JobStatusPending, Count: 1})
}

func TestRetryJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, models.KindTranscribe, "w1")
	require.NoError(t, err)
	_, err = s.FailJob(ctx, job.ID, "w1", store.JobFailure{Kind: models.ErrorKindCostRejected, Message: "rejected"})
	require.NoError(t, err)

	_, _, err = s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, err = s.RetryJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrActiveJobExists)

	_, err = s.CancelJobsForContent(ctx, 1, "operator")
	require.NoError(t, err)
	retried, err := s.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)
	assert.Nil(t, retried.ErrorKind)

	_, err = s.RetryJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = s.RetryJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Repair statements ---

func TestSyncTranscriptFlags(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	seedContent(t, s, 2, true)
	seedContent(t, s, 3, true)

	// 1 has segments but no flag, 2 has a flag but no segments, 3 is consistent.
	_, err := pool.Exec(ctx, `INSERT INTO transcript_segments VALUES (1, 0, 0, 1, 'hi')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE content_items SET has_transcript = TRUE WHERE id = 2`)
	require.NoError(t, err)

	ids, err := s.SyncTranscriptFlags(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	ids, err = s.SyncTranscriptFlags(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOrphanCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	seedContent(t, s, 99, true)

	_, _, err := s.Enqueue(ctx, 99, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO transcript_segments VALUES (99, 0, 0, 1, 'a'), (99, 1, 1, 2, 'b'), (1, 0, 0, 1, 'c')`)
	require.NoError(t, err)
	require.NoError(t, s.DeleteContent(ctx, 99))

	ids, err := s.DeleteOrphanSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, ids)

	jobs, err := s.CancelOrphanJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusCancelled, jobs[0].Status)

	segs, err := s.ListSegments(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}

func TestCancelInactiveJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)
	seedContent(t, s, 2, true)
	_, _, err := s.Enqueue(ctx, 1, models.KindTranscribe, 0)
	require.NoError(t, err)
	_, _, err = s.Enqueue(ctx, 2, models.KindTranscribe, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetContentActive(ctx, 2, false))

	jobs, err := s.CancelInactiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].ContentID)

	jobs, err = s.CancelInactiveJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEnqueueMissingStages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	seedContent(t, s, 1, true)  // needs transcribe
	seedContent(t, s, 2, false) // inactive
	seedContent(t, s, 3, true)  // has a failed transcribe job
	_, err := pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, content_id, kind, status) VALUES ($1, 3, 'transcribe', 'failed')`, uuid.New())
	require.NoError(t, err)

	jobs, err := s.EnqueueMissingStages(ctx, models.KindTranscribe, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), jobs[0].ContentID)

	jobs, err = s.EnqueueMissingStages(ctx, models.KindTranscribe, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = s.EnqueueMissingStages(ctx, models.KindChunkEmbed, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// --- Approvals ---

func TestDecideApproval_OnlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &models.CostApproval{
		ID: uuid.New(), ContentID: 42, JobID: uuid.New(), Purpose: models.PurposeTranscription,
		EstimatedCost: 1.2, Status: models.ApprovalPending, RequestedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.CreateApproval(ctx, a))

	found, err := s.FindOpenApproval(ctx, a.JobID, models.PurposeTranscription)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	decided, err := s.DecideApproval(ctx, a.ID, models.ApprovalApproved, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	assert.Equal(t, "alice", *decided.DecidedBy)

	found, err = s.FindOpenApproval(ctx, a.JobID, models.PurposeTranscription)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, found.Status)

	current, err := s.DecideApproval(ctx, a.ID, models.ApprovalRejected, "bob", "too late")
	assert.ErrorIs(t, err, store.ErrAlreadyDecided)
	assert.Equal(t, models.ApprovalApproved, current.Status)

	_, err = s.DecideApproval(ctx, uuid.New(), models.ApprovalApproved, "alice", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rejected := &models.CostApproval{
		ID: uuid.New(), ContentID: 42, JobID: uuid.New(), Purpose: models.PurposeTranscription,
		EstimatedCost: 1.2, Status: models.ApprovalPending, RequestedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.CreateApproval(ctx, rejected))
	_, err = s.DecideApproval(ctx, rejected.ID, models.ApprovalRejected, "bob", "")
	require.NoError(t, err)
	_, err = s.FindOpenApproval(ctx, rejected.JobID, models.PurposeTranscription)
	assert.ErrorIs(t, err, store.ErrNotFound)

	expired, err := s.ListExpiredApprovals(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

// --- Reports ---

func TestReports_SaveAndLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.LatestReport(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	older := models.NewConsistencyReport(time.Now().Add(-time.Hour).UTC())
	older.FinishedAt = older.StartedAt.Add(time.Second)
	older.Add(models.CategoryStuckJobs, 2, 2)
	require.NoError(t, s.SaveReport(ctx, older))

	newer := models.NewConsistencyReport(time.Now().UTC())
	newer.FinishedAt = newer.StartedAt.Add(time.Second)
	newer.Errors = []string{"vector index: connection refused"}
	require.NoError(t, s.SaveReport(ctx, newer))

	latest, err := s.LatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, []string{"vector index: connection refused"}, latest.Errors)

	all, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.CategoryCount{Found: 2, Fixed: 2}, all[1].Categories[models.CategoryStuckJobs])
}
