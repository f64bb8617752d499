package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// MemStore is an in-memory store.Store with the same transition rules as the
// Postgres implementation. Safe for concurrent use.
type MemStore struct {
	mu        sync.Mutex
	items     map[int64]*models.ContentItem
	jobs      map[uuid.UUID]*models.Job
	segments  map[int64][]models.TranscriptSegment
	approvals map[uuid.UUID]*models.CostApproval
	reports   []*models.ConsistencyReport
	faults    map[string][]error
	seq       time.Time

	// Now is the store clock. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		items:     make(map[int64]*models.ContentItem),
		jobs:      make(map[uuid.UUID]*models.Job),
		segments:  make(map[int64][]models.TranscriptSegment),
		approvals: make(map[uuid.UUID]*models.CostApproval),
		faults:    make(map[string][]error),
		Now:       time.Now,
	}
}

// FailNext makes the next n calls of op return err.
func (m *MemStore) FailNext(op string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.faults[op] = append(m.faults[op], err)
	}
}

func (m *MemStore) fault(op string) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	m.faults[op] = q[1:]
	return q[0]
}

// now returns a strictly increasing timestamp so created_at ordering is stable.
func (m *MemStore) now() time.Time {
	t := m.Now()
	if !t.After(m.seq) {
		t = m.seq.Add(time.Microsecond)
	}
	m.seq = t
	return t
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	return &c
}

func copyJobs(js []*models.Job) []*models.Job {
	out := make([]*models.Job, len(js))
	for i, j := range js {
		out[i] = copyJob(j)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func (m *MemStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault("Ping")
}

// --- Direct access for test setup ---

// PutItem stores item as-is, including derived flags.
func (m *MemStore) PutItem(item models.ContentItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = &item
}

// PutJob stores job as-is, bypassing the uniqueness rule.
func (m *MemStore) PutJob(job models.Job) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = &job
	return copyJob(&job)
}

// PutSegments stores segments for contentID without touching flags.
func (m *MemStore) PutSegments(contentID int64, segs []models.TranscriptSegment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[contentID] = append([]models.TranscriptSegment(nil), segs...)
}

// Jobs returns every job for contentID ordered by creation.
func (m *MemStore) Jobs(contentID int64) []*models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.sortedJobs() {
		if j.ContentID == contentID {
			out = append(out, copyJob(j))
		}
	}
	return out
}

func (m *MemStore) sortedJobs() []*models.Job {
	out := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID.String() < out[b].ID.String()
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (m *MemStore) activeJob(contentID int64, kind models.JobKind) *models.Job {
	for _, j := range m.sortedJobs() {
		if j.ContentID == contentID && j.Kind == kind && j.Status.Active() {
			return j
		}
	}
	return nil
}

// --- Catalog ---

func (m *MemStore) UpsertContent(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpsertContent"); err != nil {
		return nil, err
	}
	now := m.now()
	cur, ok := m.items[item.ID]
	if !ok {
		cur = &models.ContentItem{ID: item.ID, CreatedAt: now}
		m.items[item.ID] = cur
	}
	cur.Title = item.Title
	cur.DurationSeconds = item.DurationSeconds
	cur.SourceURL = item.SourceURL
	cur.IsActive = item.IsActive
	cur.UpdatedAt = now
	c := *cur
	return &c, nil
}

func (m *MemStore) GetContent(ctx context.Context, id int64) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetContent"); err != nil {
		return nil, err
	}
	c, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) SetContentActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return store.ErrNotFound
	}
	c.IsActive = active
	c.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) DeleteContent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemStore) ListContentFlags(ctx context.Context) ([]*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListContentFlags"); err != nil {
		return nil, err
	}
	out := make([]*models.ContentItem, 0, len(m.items))
	for _, c := range m.items {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *MemStore) SyncTranscriptFlags(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SyncTranscriptFlags"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, c := range m.items {
		has := len(m.segments[id]) > 0
		if c.HasTranscript != has {
			c.HasTranscript = has
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (m *MemStore) SetVectorFlags(ctx context.Context, ids []int64, value bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if c, ok := m.items[id]; ok && c.HasVectors != value {
			c.HasVectors = value
			n++
		}
	}
	return n, nil
}

// --- Queue ---

func (m *MemStore) enqueueLocked(contentID int64, kind models.JobKind, priority int) (*models.Job, bool) {
	if existing := m.activeJob(contentID, kind); existing != nil {
		return existing, false
	}
	now := m.now()
	j := &models.Job{
		ID: uuid.New(), ContentID: contentID, Kind: kind, Status: models.JobStatusPending,
		Priority: priority, CreatedAt: now, UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	return j, true
}

func (m *MemStore) Enqueue(ctx context.Context, contentID int64, kind models.JobKind, priority int) (*models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("Enqueue"); err != nil {
		return nil, false, err
	}
	j, created := m.enqueueLocked(contentID, kind, priority)
	return copyJob(j), created, nil
}

func (m *MemStore) ClaimJob(ctx context.Context, kind models.JobKind, workerID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ClaimJob"); err != nil {
		return nil, err
	}
	var best *models.Job
	for _, j := range m.sortedJobs() {
		if j.Kind != kind || j.Status != models.JobStatusPending {
			continue
		}
		if c, ok := m.items[j.ContentID]; !ok || !c.IsActive {
			continue
		}
		if best == nil || j.Priority > best.Priority {
			best = j
		}
	}
	if best == nil {
		return nil, store.ErrNoJob
	}
	now := m.now()
	best.Status = models.JobStatusProcessing
	best.Owner = ptr(workerID)
	best.StartedAt = ptr(now)
	best.HeartbeatAt = ptr(now)
	best.UpdatedAt = now
	return copyJob(best), nil
}

func (m *MemStore) owned(id uuid.UUID, workerID string) (*models.Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing || j.Owner == nil || *j.Owner != workerID {
		return nil, store.ErrClaimConflict
	}
	return j, nil
}

func (m *MemStore) HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("HeartbeatJob"); err != nil {
		return err
	}
	j, err := m.owned(id, workerID)
	if err != nil {
		return err
	}
	now := m.now()
	j.HeartbeatAt = ptr(now)
	j.UpdatedAt = now
	return nil
}

func (m *MemStore) complete(j *models.Job) {
	now := m.now()
	j.Status = models.JobStatusCompleted
	j.CompletedAt = ptr(now)
	j.UpdatedAt = now
	j.ErrorMessage = nil
	j.ErrorKind = nil
}

func (m *MemStore) CompleteTranscription(ctx context.Context, id uuid.UUID, workerID string, segments []models.TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CompleteTranscription"); err != nil {
		return err
	}
	j, err := m.owned(id, workerID)
	if err != nil {
		return err
	}
	m.complete(j)
	segs := make([]models.TranscriptSegment, len(segments))
	for i, s := range segments {
		s.ContentID = j.ContentID
		s.Order = i
		segs[i] = s
	}
	if len(segs) > 0 {
		m.segments[j.ContentID] = segs
	} else {
		delete(m.segments, j.ContentID)
	}
	if c, ok := m.items[j.ContentID]; ok {
		c.HasTranscript = len(segs) > 0
		if len(segs) > 0 && c.IsActive {
			m.enqueueLocked(j.ContentID, models.KindChunkEmbed, j.Priority)
		}
	}
	return nil
}

func (m *MemStore) CompleteEmbedding(ctx context.Context, id uuid.UUID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CompleteEmbedding"); err != nil {
		return err
	}
	j, err := m.owned(id, workerID)
	if err != nil {
		return err
	}
	m.complete(j)
	if c, ok := m.items[j.ContentID]; ok {
		c.HasVectors = true
	}
	return nil
}

func (m *MemStore) FailJob(ctx context.Context, id uuid.UUID, workerID string, f store.JobFailure) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("FailJob"); err != nil {
		return nil, err
	}
	j, err := m.owned(id, workerID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	j.ErrorMessage = ptr(f.Message)
	j.UpdatedAt = now
	kind := f.Kind
	if f.Kind.Retryable() {
		j.RetryCount++
		if j.RetryCount <= f.MaxRetries {
			j.Status = models.JobStatusPending
			j.Owner = nil
			j.HeartbeatAt = nil
			j.ErrorKind = ptr(kind)
			return copyJob(j), nil
		}
		kind = models.ErrorKindRetriesExhausted
	}
	j.Status = models.JobStatusFailed
	j.ErrorKind = ptr(kind)
	j.CompletedAt = ptr(now)
	return copyJob(j), nil
}

func (m *MemStore) resetLocked(j *models.Job, maxRetries int) {
	now := m.now()
	j.RetryCount++
	j.ErrorMessage = ptr(models.ErrorMessageInterrupted)
	j.HeartbeatAt = nil
	j.UpdatedAt = now
	if j.RetryCount <= maxRetries {
		j.Status = models.JobStatusPending
		j.ErrorKind = ptr(models.ErrorKindTransient)
		j.Owner = nil
		return
	}
	j.Status = models.JobStatusFailed
	j.ErrorKind = ptr(models.ErrorKindRetriesExhausted)
	j.CompletedAt = ptr(now)
}

func (m *MemStore) ResetStaleJobs(ctx context.Context, cutoff time.Time, maxRetries int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ResetStaleJobs"); err != nil {
		return nil, err
	}
	var out []*models.Job
	for _, j := range m.sortedJobs() {
		if j.Status != models.JobStatusProcessing {
			continue
		}
		if lastBeat(j).Before(cutoff) {
			m.resetLocked(j, maxRetries)
			out = append(out, j)
		}
	}
	return copyJobs(out), nil
}

func lastBeat(j *models.Job) time.Time {
	switch {
	case j.HeartbeatAt != nil:
		return *j.HeartbeatAt
	case j.StartedAt != nil:
		return *j.StartedAt
	}
	return j.UpdatedAt
}

func (m *MemStore) ResetOwnedJobs(ctx context.Context, owners []string, maxRetries int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ResetOwnedJobs"); err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(owners))
	for _, o := range owners {
		set[o] = true
	}
	var out []*models.Job
	for _, j := range m.sortedJobs() {
		if j.Status == models.JobStatusProcessing && j.Owner != nil && set[*j.Owner] {
			m.resetLocked(j, maxRetries)
			out = append(out, j)
		}
	}
	return copyJobs(out), nil
}

func (m *MemStore) cancelWhere(reason string, match func(*models.Job) bool) []*models.Job {
	var out []*models.Job
	for _, j := range m.sortedJobs() {
		if j.Status.Active() && match(j) {
			now := m.now()
			j.Status = models.JobStatusCancelled
			j.ErrorMessage = ptr(reason)
			j.CompletedAt = ptr(now)
			j.HeartbeatAt = nil
			j.UpdatedAt = now
			out = append(out, j)
		}
	}
	return copyJobs(out)
}

func (m *MemStore) CancelJobsForContent(ctx context.Context, contentID int64, reason string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelWhere(reason, func(j *models.Job) bool { return j.ContentID == contentID }), nil
}

func (m *MemStore) CancelInactiveJobs(ctx context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CancelInactiveJobs"); err != nil {
		return nil, err
	}
	return m.cancelWhere("content deactivated", func(j *models.Job) bool {
		c, ok := m.items[j.ContentID]
		return ok && !c.IsActive
	}), nil
}

func (m *MemStore) CancelOrphanJobs(ctx context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelWhere("content removed", func(j *models.Job) bool {
		_, ok := m.items[j.ContentID]
		return !ok
	}), nil
}

func (m *MemStore) PurgeFinishedJobs(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("PurgeFinishedJobs"); err != nil {
		return 0, err
	}
	n := 0
	for id, j := range m.jobs {
		if j.Status != models.JobStatusCompleted && j.Status != models.JobStatusCancelled {
			continue
		}
		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CollapseDuplicateJobs(ctx context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		id   int64
		kind models.JobKind
	}
	seen := make(map[key]bool)
	return m.cancelWhere("duplicate", func(j *models.Job) bool {
		k := key{j.ContentID, j.Kind}
		if seen[k] {
			return true
		}
		seen[k] = true
		return false
	}), nil
}

func (m *MemStore) EnqueueMissingStages(ctx context.Context, kind models.JobKind, priority int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("EnqueueMissingStages"); err != nil {
		return nil, err
	}
	blocked := make(map[int64]bool)
	for _, j := range m.jobs {
		if j.Kind == kind && (j.Status.Active() || j.Status == models.JobStatusFailed) {
			blocked[j.ContentID] = true
		}
	}
	ids := make([]int64, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var out []*models.Job
	for _, id := range ids {
		c := m.items[id]
		if !c.IsActive || blocked[id] {
			continue
		}
		needed := false
		switch kind {
		case models.KindTranscribe:
			needed = !c.HasTranscript
		case models.KindChunkEmbed:
			needed = c.HasTranscript && !c.HasVectors
		}
		if needed {
			j, _ := m.enqueueLocked(id, kind, priority)
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (m *MemStore) RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.Status != models.JobStatusFailed {
		return nil, store.ErrInvalidTransition
	}
	if m.activeJob(j.ContentID, j.Kind) != nil {
		return nil, store.ErrActiveJobExists
	}
	j.Status = models.JobStatusPending
	j.RetryCount = 0
	j.ErrorKind = nil
	j.ErrorMessage = nil
	j.Owner = nil
	j.StartedAt = nil
	j.HeartbeatAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = m.now()
	return copyJob(j), nil
}

func (m *MemStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *MemStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Job
	all := m.sortedJobs()
	for i := len(all) - 1; i >= 0; i-- {
		j := all[i]
		if filter.ContentID != 0 && j.ContentID != filter.ContentID {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return copyJobs(matched[start:end]), len(matched), nil
}

func (m *MemStore) JobStats(ctx context.Context) ([]models.JobStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.JobStat]int)
	for _, j := range m.jobs {
		counts[models.JobStat{Kind: j.Kind, Status: j.Status}]++
	}
	var out []models.JobStat
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Kind == out[b].Kind {
			return out[a].Status < out[b].Status
		}
		return out[a].Kind < out[b].Kind
	})
	return out, nil
}

func (m *MemStore) LiveJobContentIDs(ctx context.Context, kind models.JobKind, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, j := range m.sortedJobs() {
		if j.Kind == kind && j.Status == models.JobStatusProcessing && !lastBeat(j).Before(cutoff) && !seen[j.ContentID] {
			seen[j.ContentID] = true
			ids = append(ids, j.ContentID)
		}
	}
	return ids, nil
}

// --- Transcripts ---

func (m *MemStore) ListSegments(ctx context.Context, contentID int64) ([]models.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListSegments"); err != nil {
		return nil, err
	}
	return append([]models.TranscriptSegment(nil), m.segments[contentID]...), nil
}

func (m *MemStore) DeleteOrphanSegments(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.segments {
		if _, ok := m.items[id]; !ok {
			delete(m.segments, id)
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// --- Approvals ---

func copyApproval(a *models.CostApproval) *models.CostApproval {
	c := *a
	return &c
}

func (m *MemStore) CreateApproval(ctx context.Context, a *models.CostApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CreateApproval"); err != nil {
		return err
	}
	if _, ok := m.approvals[a.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.approvals[a.ID] = copyApproval(a)
	return nil
}

func (m *MemStore) GetApproval(ctx context.Context, id uuid.UUID) (*models.CostApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetApproval"); err != nil {
		return nil, err
	}
	a, ok := m.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyApproval(a), nil
}

func (m *MemStore) FindOpenApproval(ctx context.Context, jobID uuid.UUID, purpose models.Purpose) (*models.CostApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.CostApproval
	for _, a := range m.approvals {
		open := a.Status == models.ApprovalPending || a.Status == models.ApprovalApproved
		if a.JobID == jobID && a.Purpose == purpose && open {
			if best == nil || a.RequestedAt.After(best.RequestedAt) {
				best = a
			}
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return copyApproval(best), nil
}

func (m *MemStore) DecideApproval(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, decidedBy, reason string) (*models.CostApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status != models.ApprovalPending {
		return copyApproval(a), store.ErrAlreadyDecided
	}
	a.Status = status
	a.DecidedBy = ptr(decidedBy)
	a.DecidedAt = ptr(m.now())
	if reason != "" {
		a.Reason = ptr(reason)
	}
	return copyApproval(a), nil
}

func (m *MemStore) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.CostApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CostApproval
	for _, a := range m.approvals {
		if status == "" || a.Status == status {
			out = append(out, copyApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.CostApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CostApproval
	for _, a := range m.approvals {
		if a.Status == models.ApprovalPending && !a.ExpiresAt.After(now) {
			out = append(out, copyApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// --- Reports ---

func (m *MemStore) SaveReport(ctx context.Context, r *models.ConsistencyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SaveReport"); err != nil {
		return err
	}
	cp := *r
	m.reports = append(m.reports, &cp)
	return nil
}

func (m *MemStore) LatestReport(ctx context.Context) (*models.ConsistencyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *m.reports[len(m.reports)-1]
	return &cp, nil
}

func (m *MemStore) ListReports(ctx context.Context, limit int) ([]*models.ConsistencyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConsistencyReport
	for i := len(m.reports) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *m.reports[i]
		out = append(out, &cp)
	}
	return out, nil
}
