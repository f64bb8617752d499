package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/castkeeper/internal/api"
	"github.com/kiranshivaraju/castkeeper/internal/api/handler"
	"github.com/kiranshivaraju/castkeeper/internal/costgate"
	"github.com/kiranshivaraju/castkeeper/internal/reconcile"
	"github.com/kiranshivaraju/castkeeper/internal/testsupport"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

type cliTestEnv struct {
	store  *testsupport.MemStore
	cache  *testsupport.MemCache
	gate   *costgate.Gate
	server *httptest.Server
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	logger := testsupport.Logger()
	env := &cliTestEnv{store: testsupport.NewMemStore(), cache: testsupport.NewMemCache()}
	env.gate = costgate.New(env.store, env.cache, env.cache, cfg.Cost, logger)
	index := testsupport.NewMemIndex(cfg.VectorDB.Dimensions)
	rec := reconcile.New(env.store, index, env.cache, env.gate, cfg, logger)

	router := api.NewRouter(api.Dependencies{
		Logger:            logger,
		JobStats:          handler.NewJobStatsHandler(env.store),
		JobFailures:       handler.NewJobFailuresHandler(env.store),
		ListJobs:          handler.NewListJobsHandler(env.store),
		EnqueueJob:        handler.NewEnqueueJobHandler(env.store),
		RetryJob:          handler.NewRetryJobHandler(env.store),
		ListApprovals:     handler.NewListApprovalsHandler(env.store),
		ApproveApproval:   handler.NewApproveHandler(env.gate),
		RejectApproval:    handler.NewRejectHandler(env.gate),
		Spend:             handler.NewSpendHandler(env.gate),
		LatestReport:      handler.NewLatestReportHandler(rec),
		ListReports:       handler.NewListReportsHandler(env.store),
		Reconcile:         handler.NewReconcileHandler(rec),
		UpsertContent:     handler.NewUpsertContentHandler(env.store, logger),
		DeactivateContent: handler.NewDeactivateContentHandler(env.store, logger),
		DeleteContent:     handler.NewDeleteContentHandler(env.store, logger),
	})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", env.server.URL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (env *cliTestEnv) pendingApproval(t *testing.T) *models.CostApproval {
	t.Helper()
	res, err := env.gate.Check(context.Background(), costgate.Request{
		ContentID:     42,
		JobID:         uuid.New(),
		Purpose:       models.PurposeTranscription,
		EstimatedCost: 1.5,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)
	return res.Approval
}

func TestJobsStatsAndList(t *testing.T) {
	env := setupCLITestEnv(t)
	env.store.PutJob(models.Job{ContentID: 1, Kind: models.KindTranscribe, Status: models.JobStatusFailed, ErrorMessage: ptr("engine exploded")})
	env.store.PutJob(models.Job{ContentID: 2, Kind: models.KindChunkEmbed, Status: models.JobStatusPending})

	out, err := env.run(t, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "transcribe")
	assert.Contains(t, out, "chunk_embed")
	assert.Contains(t, out, "failed")

	out, err = env.run(t, "jobs", "list", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "engine exploded")
	assert.Contains(t, out, "1 of 1 jobs")
	assert.NotContains(t, out, "chunk_embed")
}

func TestJobsFailures(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "jobs", "failures")
	require.NoError(t, err)
	assert.Contains(t, out, "No failed jobs")

	env.store.PutJob(models.Job{ContentID: 3, Kind: models.KindTranscribe, Status: models.JobStatusFailed, ErrorMessage: ptr("source 3 returned 503")})
	env.store.PutJob(models.Job{ContentID: 4, Kind: models.KindTranscribe, Status: models.JobStatusFailed, ErrorMessage: ptr("source 4 returned 502")})

	out, err = env.run(t, "jobs", "failures", "--kind", "transcribe")
	require.NoError(t, err)
	assert.Contains(t, out, "3,4")
	assert.Contains(t, out, "returned 50")
}

func TestJobsRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	failed := env.store.PutJob(models.Job{ContentID: 1, Kind: models.KindTranscribe, Status: models.JobStatusFailed})
	done := env.store.PutJob(models.Job{ContentID: 2, Kind: models.KindTranscribe, Status: models.JobStatusCompleted})

	out, err := env.run(t, "jobs", "retry", failed.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, failed.ID.String()+" is pending")

	out, err = env.run(t, "jobs", "retry", done.ID.String())
	require.Error(t, err)
	assert.Contains(t, out, "JOB_NOT_FAILED")
}

func TestJobsEnqueue(t *testing.T) {
	env := setupCLITestEnv(t)
	env.store.PutItem(models.ContentItem{ID: 9, IsActive: true})

	out, err := env.run(t, "jobs", "enqueue", "9", "transcribe")
	require.NoError(t, err)
	assert.Contains(t, out, "is pending")
	assert.Len(t, env.store.Jobs(9), 1)

	_, err = env.run(t, "jobs", "enqueue", "9", "summarize")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
}

func TestApprovalsListAndDecide(t *testing.T) {
	env := setupCLITestEnv(t)
	a := env.pendingApproval(t)
	b := env.pendingApproval(t)

	out, err := env.run(t, "approvals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, a.ID.String())
	assert.Contains(t, out, "$1.5")

	out, err = env.run(t, "approvals", "approve", a.ID.String(), "--by", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "is approved")

	out, err = env.run(t, "approvals", "reject", b.ID.String(), "--by", "bob", "--reason", "too pricey")
	require.NoError(t, err)
	assert.Contains(t, out, "is rejected")

	got, err := env.store.GetApproval(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Reason)
	assert.Equal(t, "too pricey", *got.Reason)

	_, err = env.run(t, "approvals", "approve", a.ID.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALREADY_DECIDED")
}

func TestReconcileAndReport(t *testing.T) {
	env := setupCLITestEnv(t)
	env.store.PutItem(models.ContentItem{ID: 5, IsActive: true})

	_, err := env.run(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	out, err := env.run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, models.CategoryMissingJobs)

	out, err = env.run(t, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Report ")

	out, err = env.run(t, "report", "--history", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Duration")
	latest, err := env.store.LatestReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, latest.ID.String()))
}

func TestContentCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "content", "upsert", "42", "--source", "https://media.example.com/42.mp4", "--duration", "5400")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued transcribe job")

	out, err = env.run(t, "content", "deactivate", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled 1 jobs")

	out, err = env.run(t, "content", "delete", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "Content 42 removed")

	_, err = env.run(t, "content", "delete", "42")
	require.Error(t, err)

	_, err = env.run(t, "content", "delete", "nope")
	require.Error(t, err)
}

func TestSpend(t *testing.T) {
	env := setupCLITestEnv(t)
	env.pendingApproval(t)

	out, err := env.run(t, "spend")
	require.NoError(t, err)
	assert.Contains(t, out, "$1.50")
	assert.Contains(t, out, "15.0%")
}

func TestJSONOutput(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "--json", "spend")
	require.NoError(t, err)
	assert.Contains(t, out, `"daily_limit": 10`)
}

func ptr[T any](v T) *T { return &v }
