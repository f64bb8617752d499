package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

const jobColumns = `id, content_id, kind, status, priority, retry_count, error_message, error_kind, owner,
	created_at, started_at, heartbeat_at, completed_at, updated_at`

const activeStatuses = `('pending', 'processing')`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var errEnqueueRace = errors.New("active job vanished during enqueue")

// qualified prefixes every column in cols with alias.
func qualified(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ContentID, &j.Kind, &j.Status, &j.Priority, &j.RetryCount,
		&j.ErrorMessage, &j.ErrorKind, &j.Owner, &j.CreatedAt, &j.StartedAt, &j.HeartbeatAt,
		&j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows, err error, op string) ([]*models.Job, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan job: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

func notifyJobs(ctx context.Context, q querier, kind models.JobKind) error {
	if _, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, JobsChannel, string(kind)); err != nil {
		return fmt.Errorf("notify jobs: %w", err)
	}
	return nil
}

// --- Queue ---

func (s *PostgresStore) Enqueue(ctx context.Context, contentID int64, kind models.JobKind, priority int) (*models.Job, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, created, err := s.enqueueOnce(ctx, contentID, kind, priority)
		if errors.Is(err, errEnqueueRace) {
			continue
		}
		return job, created, err
	}
	return nil, false, fmt.Errorf("enqueue job: %w", errEnqueueRace)
}

func (s *PostgresStore) enqueueOnce(ctx context.Context, contentID int64, kind models.JobKind, priority int) (*models.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx,
		`INSERT INTO processing_jobs (id, content_id, kind, status, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', $4, NOW(), NOW())
		 ON CONFLICT (content_id, kind) WHERE status IN `+activeStatuses+` DO NOTHING
		 RETURNING `+jobColumns,
		uuid.New(), contentID, kind, priority))
	switch {
	case err == nil:
		if err := notifyJobs(ctx, tx, kind); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("enqueue job: commit: %w", err)
		}
		return job, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}

	existing, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE content_id = $1 AND kind = $2 AND status IN `+activeStatuses,
		contentID, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errEnqueueRace
	}
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: load existing: %w", err)
	}
	return existing, false, nil
}

// ClaimJob atomically moves the highest priority, oldest pending job of kind
// whose content item is active to processing under workerID.
func (s *PostgresStore) ClaimJob(ctx context.Context, kind models.JobKind, workerID string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = 'processing', owner = $2, started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = (
		   SELECT j.id FROM processing_jobs j
		   JOIN content_items c ON c.id = j.content_id
		   WHERE j.kind = $1 AND j.status = 'pending' AND c.is_active
		   ORDER BY j.priority DESC, j.created_at ASC
		   LIMIT 1
		   FOR UPDATE OF j SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		kind, workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND owner = $2 AND status = 'processing'`, id, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimConflict
	}
	return nil
}

// completeJob marks the job completed if workerID still owns it and returns
// its content id and priority.
func completeJob(ctx context.Context, q querier, id uuid.UUID, workerID string) (int64, int, error) {
	var contentID int64
	var priority int
	err := q.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = 'completed', completed_at = NOW(), updated_at = NOW(),
		     error_message = NULL, error_kind = NULL
		 WHERE id = $1 AND owner = $2 AND status = 'processing'
		 RETURNING content_id, priority`, id, workerID).Scan(&contentID, &priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrClaimConflict
	}
	if err != nil {
		return 0, 0, fmt.Errorf("complete job: %w", err)
	}
	return contentID, priority, nil
}

// CompleteTranscription replaces the transcript, updates has_transcript,
// completes the job and enqueues chunk_embed in one transaction.
func (s *PostgresStore) CompleteTranscription(ctx context.Context, id uuid.UUID, workerID string, segments []models.TranscriptSegment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("complete transcription: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	contentID, priority, err := completeJob(ctx, tx, id, workerID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_segments WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("complete transcription: clear segments: %w", err)
	}
	if len(segments) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"transcript_segments"},
			[]string{"content_id", "segment_order", "start_time", "end_time", "text"},
			pgx.CopyFromSlice(len(segments), func(i int) ([]any, error) {
				seg := segments[i]
				return []any{contentID, i, seg.Start, seg.End, seg.Text}, nil
			}))
		if err != nil {
			return fmt.Errorf("complete transcription: write segments: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE content_items SET has_transcript = $2, updated_at = NOW() WHERE id = $1`,
		contentID, len(segments) > 0); err != nil {
		return fmt.Errorf("complete transcription: set flag: %w", err)
	}

	if len(segments) > 0 {
		tag, err := tx.Exec(ctx,
			`INSERT INTO processing_jobs (id, content_id, kind, status, priority, created_at, updated_at)
			 SELECT $1, c.id, $3, 'pending', $4, NOW(), NOW()
			 FROM content_items c WHERE c.id = $2 AND c.is_active
			 ON CONFLICT (content_id, kind) WHERE status IN `+activeStatuses+` DO NOTHING`,
			uuid.New(), contentID, models.KindChunkEmbed, priority)
		if err != nil {
			return fmt.Errorf("complete transcription: enqueue embed: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if err := notifyJobs(ctx, tx, models.KindChunkEmbed); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("complete transcription: commit: %w", err)
	}
	return nil
}

// CompleteEmbedding sets has_vectors and completes the job in one transaction.
// The caller writes the vector index first.
func (s *PostgresStore) CompleteEmbedding(ctx context.Context, id uuid.UUID, workerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("complete embedding: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	contentID, _, err := completeJob(ctx, tx, id, workerID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE content_items SET has_vectors = TRUE, updated_at = NOW() WHERE id = $1`, contentID); err != nil {
		return fmt.Errorf("complete embedding: set flag: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("complete embedding: commit: %w", err)
	}
	return nil
}

// FailJob records a failure. Retryable kinds return the job to pending with
// retry_count+1 until maxRetries is exceeded; everything else is terminal.
func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, workerID string, f JobFailure) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE processing_jobs SET
		   status = CASE WHEN $3::boolean AND retry_count + 1 <= $4::int THEN 'pending' ELSE 'failed' END,
		   retry_count = CASE WHEN $3::boolean THEN retry_count + 1 ELSE retry_count END,
		   error_kind = CASE WHEN $3::boolean AND retry_count + 1 > $4::int THEN $7 ELSE $5::text END,
		   error_message = $6,
		   owner = CASE WHEN $3::boolean AND retry_count + 1 <= $4::int THEN NULL ELSE owner END,
		   heartbeat_at = CASE WHEN $3::boolean AND retry_count + 1 <= $4::int THEN NULL ELSE heartbeat_at END,
		   completed_at = CASE WHEN $3::boolean AND retry_count + 1 <= $4::int THEN NULL ELSE NOW() END,
		   updated_at = NOW()
		 WHERE id = $1 AND owner = $2 AND status = 'processing'
		 RETURNING `+jobColumns,
		id, workerID, f.Kind.Retryable(), f.MaxRetries, string(f.Kind), f.Message,
		string(models.ErrorKindRetriesExhausted)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimConflict
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if job.Status == models.JobStatusPending {
		if err := notifyJobs(ctx, s.pool, job.Kind); err != nil {
			return job, err
		}
	}
	return job, nil
}

// resetAssignments returns a processing job to pending with retry_count+1, or
// fails it once $2 retries are used up. The status predicate in each caller's
// WHERE clause makes concurrent resets of the same row increment only once.
const resetAssignments = `
	retry_count = retry_count + 1,
	status = CASE WHEN retry_count + 1 <= $2::int THEN 'pending' ELSE 'failed' END,
	error_kind = CASE WHEN retry_count + 1 <= $2::int THEN 'transient' ELSE 'retries_exhausted' END,
	error_message = 'interrupted',
	owner = CASE WHEN retry_count + 1 <= $2::int THEN NULL ELSE owner END,
	heartbeat_at = NULL,
	completed_at = CASE WHEN retry_count + 1 <= $2::int THEN NULL ELSE NOW() END,
	updated_at = NOW()`

func (s *PostgresStore) ResetStaleJobs(ctx context.Context, cutoff time.Time, maxRetries int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_jobs SET `+resetAssignments+`
		 WHERE status = 'processing' AND COALESCE(heartbeat_at, started_at, updated_at) < $1
		 RETURNING `+jobColumns, cutoff, maxRetries)
	jobs, err := collectJobs(rows, err, "reset stale jobs")
	if err != nil {
		return nil, err
	}
	s.notifyRequeued(ctx, jobs)
	return jobs, nil
}

func (s *PostgresStore) ResetOwnedJobs(ctx context.Context, owners []string, maxRetries int) ([]*models.Job, error) {
	if len(owners) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_jobs SET `+resetAssignments+`
		 WHERE status = 'processing' AND owner = ANY($1)
		 RETURNING `+jobColumns, owners, maxRetries)
	jobs, err := collectJobs(rows, err, "reset owned jobs")
	if err != nil {
		return nil, err
	}
	s.notifyRequeued(ctx, jobs)
	return jobs, nil
}

// notifyRequeued wakes idle workers for jobs that went back to pending.
// Failures are ignored; workers poll anyway.
func (s *PostgresStore) notifyRequeued(ctx context.Context, jobs []*models.Job) {
	seen := make(map[models.JobKind]bool)
	for _, j := range jobs {
		if j.Status == models.JobStatusPending && !seen[j.Kind] {
			seen[j.Kind] = true
			_ = notifyJobs(ctx, s.pool, j.Kind)
		}
	}
}

const cancelAssignments = `status = 'cancelled', completed_at = NOW(), updated_at = NOW(), heartbeat_at = NULL`

func (s *PostgresStore) CancelJobsForContent(ctx context.Context, contentID int64, reason string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_jobs SET `+cancelAssignments+`, error_message = $2
		 WHERE content_id = $1 AND status IN `+activeStatuses+`
		 RETURNING `+jobColumns, contentID, reason)
	return collectJobs(rows, err, "cancel jobs for content")
}

func (s *PostgresStore) CancelInactiveJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_jobs j SET `+cancelAssignments+`, error_message = 'content deactivated'
		 FROM content_items c
		 WHERE c.id = j.content_id AND NOT c.is_active AND j.status IN `+activeStatuses+`
		 RETURNING `+qualified("j", jobColumns))
	return collectJobs(rows, err, "cancel inactive jobs")
}

func (s *PostgresStore) CancelOrphanJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_jobs j SET `+cancelAssignments+`, error_message = 'content removed'
		 WHERE j.status IN `+activeStatuses+`
		   AND NOT EXISTS (SELECT 1 FROM content_items c WHERE c.id = j.content_id)
		 RETURNING `+jobColumns)
	return collectJobs(rows, err, "cancel orphan jobs")
}

func (s *PostgresStore) PurgeFinishedJobs(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_jobs
		 WHERE status IN ('completed', 'cancelled') AND COALESCE(completed_at, updated_at) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CollapseDuplicateJobs keeps the oldest pending or processing job per
// (content_id, kind) and cancels the rest.
func (s *PostgresStore) CollapseDuplicateJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`WITH ranked AS (
		   SELECT id, ROW_NUMBER() OVER (PARTITION BY content_id, kind ORDER BY created_at ASC, id ASC) AS rn
		   FROM processing_jobs WHERE status IN `+activeStatuses+`
		 )
		 UPDATE processing_jobs j SET `+cancelAssignments+`, error_message = 'duplicate'
		 FROM ranked r
		 WHERE j.id = r.id AND r.rn > 1
		 RETURNING `+qualified("j", jobColumns))
	return collectJobs(rows, err, "collapse duplicate jobs")
}

// stageNeeded is the content predicate for which a stage still has work to do.
var stageNeeded = map[models.JobKind]string{
	models.KindTranscribe: `NOT c.has_transcript`,
	models.KindChunkEmbed: `c.has_transcript AND NOT c.has_vectors`,
}

// EnqueueMissingStages creates jobs for active items that need kind and have
// no pending, processing or failed job of that kind. Failed jobs wait for an
// operator retry.
func (s *PostgresStore) EnqueueMissingStages(ctx context.Context, kind models.JobKind, priority int) ([]*models.Job, error) {
	cond, ok := stageNeeded[kind]
	if !ok {
		return nil, fmt.Errorf("enqueue missing stages: unknown kind %q", kind)
	}
	rows, err := s.pool.Query(ctx,
		`INSERT INTO processing_jobs (id, content_id, kind, status, priority, created_at, updated_at)
		 SELECT gen_random_uuid(), c.id, $1, 'pending', $2, NOW(), NOW()
		 FROM content_items c
		 WHERE c.is_active AND `+cond+`
		   AND NOT EXISTS (
		     SELECT 1 FROM processing_jobs j
		     WHERE j.content_id = c.id AND j.kind = $1 AND j.status IN ('pending', 'processing', 'failed')
		   )
		 ON CONFLICT (content_id, kind) WHERE status IN `+activeStatuses+` DO NOTHING
		 RETURNING `+jobColumns, kind, priority)
	jobs, err := collectJobs(rows, err, "enqueue missing stages")
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		_ = notifyJobs(ctx, s.pool, kind)
	}
	return jobs, nil
}

// RetryJob is the operator retry of a failed job. It resets retry_count.
func (s *PostgresStore) RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE processing_jobs SET
		   status = 'pending', retry_count = 0, error_message = NULL, error_kind = NULL, owner = NULL,
		   started_at = NULL, heartbeat_at = NULL, completed_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'
		 RETURNING `+jobColumns, id))
	if err == nil {
		_ = notifyJobs(ctx, s.pool, job.Kind)
		return job, nil
	}
	if isDuplicateKeyError(err) {
		return nil, ErrActiveJobExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrInvalidTransition
}

// --- Read models ---

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.ContentID != 0 {
		conditions = append(conditions, fmt.Sprintf("content_id = $%d", argIdx))
		args = append(args, filter.ContentID)
		argIdx++
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM processing_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := pagination(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM processing_jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	jobs, err := collectJobs(rows, err, "list jobs")
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// pagination normalizes a 1-based page and a limit capped at 100.
func pagination(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

func (s *PostgresStore) JobStats(ctx context.Context) ([]models.JobStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, status, COUNT(*) FROM processing_jobs GROUP BY kind, status ORDER BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats []models.JobStat
	for rows.Next() {
		var st models.JobStat
		if err := rows.Scan(&st.Kind, &st.Status, &st.Count); err != nil {
			return nil, fmt.Errorf("scan job stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *PostgresStore) LiveJobContentIDs(ctx context.Context, kind models.JobKind, cutoff time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT content_id FROM processing_jobs
		 WHERE kind = $1 AND status = 'processing'
		   AND COALESCE(heartbeat_at, started_at, updated_at) >= $2`, kind, cutoff)
	if err != nil {
		return nil, fmt.Errorf("live job content ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("live job content ids: %w", err)
	}
	return ids, nil
}
