package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

// --- Spend counters ---

const dollar = int64(1_000_000)

func TestReserveSpend_DailyCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	res, err := rc.ReserveSpend(ctx, at, 6*dollar, 10*dollar, 100*dollar)
	require.NoError(t, err)
	assert.Equal(t, cache.Reserved, res)

	res, err = rc.ReserveSpend(ctx, at, 6*dollar, 10*dollar, 100*dollar)
	require.NoError(t, err)
	assert.Equal(t, cache.DailyCeilingExceeded, res)

	daily, monthly, err := rc.Spend(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 6*dollar, daily)
	assert.Equal(t, 6*dollar, monthly)
}

func TestReserveSpend_MonthlyCeilingAcrossDays(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	day1 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	res, err := rc.ReserveSpend(ctx, day1, 8*dollar, 10*dollar, 12*dollar)
	require.NoError(t, err)
	require.Equal(t, cache.Reserved, res)

	res, err = rc.ReserveSpend(ctx, day2, 5*dollar, 10*dollar, 12*dollar)
	require.NoError(t, err)
	assert.Equal(t, cache.MonthlyCeilingExceeded, res)

	daily, monthly, err := rc.Spend(ctx, day2)
	require.NoError(t, err)
	assert.Zero(t, daily)
	assert.Equal(t, 8*dollar, monthly)
}

func TestReserveSpend_ConcurrentNeverOvershoots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	at := time.Now()

	results := make(chan cache.ReserveResult, 20)
	for i := 0; i < 20; i++ {
		go func() {
			res, err := rc.ReserveSpend(ctx, at, dollar, 10*dollar, 100*dollar)
			assert.NoError(t, err)
			results <- res
		}()
	}
	reserved := 0
	for i := 0; i < 20; i++ {
		if <-results == cache.Reserved {
			reserved++
		}
	}
	assert.Equal(t, 10, reserved)
}

func TestReleaseSpend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	at := time.Now()

	_, err := rc.ReserveSpend(ctx, at, 3*dollar, 10*dollar, 100*dollar)
	require.NoError(t, err)
	require.NoError(t, rc.ReleaseSpend(ctx, at, 5*dollar))

	daily, monthly, err := rc.Spend(ctx, at)
	require.NoError(t, err)
	assert.Zero(t, daily, "counters never go negative")
	assert.Zero(t, monthly)

	// Releasing against a day with no counter must not create one.
	old := at.AddDate(0, -2, 0)
	require.NoError(t, rc.ReleaseSpend(ctx, old, dollar))
	_, found, err := rc.Get(ctx, cache.SpendDayKey(old))
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Leases ---

func TestLease_ExclusiveAndOwnerRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	ok, err := rc.AcquireLease(ctx, cache.ReconcileLeaseKey, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.AcquireLease(ctx, cache.ReconcileLeaseKey, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := rc.ReleaseLease(ctx, cache.ReconcileLeaseKey, "b")
	require.NoError(t, err)
	assert.False(t, released, "non-owner must not release")

	released, err = rc.ReleaseLease(ctx, cache.ReconcileLeaseKey, "a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = rc.AcquireLease(ctx, cache.ReconcileLeaseKey, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Pub/sub ---

func TestPublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	sub, err := rc.Subscribe(ctx, cache.ApprovalsChannel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, rc.Publish(ctx, cache.ApprovalsChannel, "approval-1"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "approval-1", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("10.0.0.1")

	for want := int64(1); want <= 3; want++ {
		n, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

// --- Keys ---

func TestSpendKeys(t *testing.T) {
	at := time.Date(2026, 1, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "cost:spend:day:2026-02-01", cache.SpendDayKey(at))
	assert.Equal(t, "cost:spend:month:2026-02", cache.SpendMonthKey(at))
}

func TestReserveResult_String(t *testing.T) {
	assert.Equal(t, "reserved", cache.Reserved.String())
	assert.Equal(t, "daily ceiling exceeded", cache.DailyCeilingExceeded.String())
	assert.Equal(t, "monthly ceiling exceeded", cache.MonthlyCeilingExceeded.String())
}
