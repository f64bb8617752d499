package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func TestMemStore_PurgeFinishedJobs(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	done := m.PutJob(models.Job{ContentID: 1, Kind: models.KindTranscribe, Status: models.JobStatusCompleted, CreatedAt: old, CompletedAt: &old})
	cancelled := m.PutJob(models.Job{ContentID: 1, Kind: models.KindChunkEmbed, Status: models.JobStatusCancelled, CreatedAt: old})
	failed := m.PutJob(models.Job{ContentID: 2, Kind: models.KindTranscribe, Status: models.JobStatusFailed, CreatedAt: old, CompletedAt: &old})
	pending := m.PutJob(models.Job{ContentID: 3, Kind: models.KindTranscribe, Status: models.JobStatusPending, CreatedAt: old})
	fresh := m.PutJob(models.Job{ContentID: 4, Kind: models.KindTranscribe, Status: models.JobStatusCompleted, CreatedAt: recent, CompletedAt: &recent})

	n, err := m.PurgeFinishedJobs(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, j := range []*models.Job{done, cancelled} {
		_, err := m.GetJob(ctx, j.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	for _, j := range []*models.Job{failed, pending, fresh} {
		_, err := m.GetJob(ctx, j.ID)
		assert.NoError(t, err)
	}
}

func TestMemStore_LiveJobContentIDs(t *testing.T) {
	m := NewMemStore()
	now := time.Now()
	old := now.Add(-time.Hour)
	m.PutJob(models.Job{ContentID: 1, Kind: models.KindChunkEmbed, Status: models.JobStatusProcessing, StartedAt: &old, HeartbeatAt: &now})
	m.PutJob(models.Job{ContentID: 2, Kind: models.KindChunkEmbed, Status: models.JobStatusProcessing, StartedAt: &old})
	m.PutJob(models.Job{ContentID: 3, Kind: models.KindChunkEmbed, Status: models.JobStatusPending})
	m.PutJob(models.Job{ContentID: 4, Kind: models.KindTranscribe, Status: models.JobStatusProcessing, StartedAt: &now})

	ids, err := m.LiveJobContentIDs(context.Background(), models.KindChunkEmbed, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}
