package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reflectai/journal/internal/cache"
	"github.com/reflectai/journal/pkg/models"
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

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:key", []byte("x"), 10*time.Second))
	require.NoError(t, rc.Delete(ctx, "test:key"))

	_, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Job status mirror ---

func TestJobStatus_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	userID, jobID := uuid.New(), uuid.New()

	_, found, err := rc.GetJobStatus(ctx, userID, jobID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.SetJobStatus(ctx, userID, jobID, models.JobStatusRunning, 10*time.Second))

	status, found, err := rc.GetJobStatus(ctx, userID, jobID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.JobStatusRunning, status)
}

func TestJobStatus_OwnerScoped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	userID, jobID := uuid.New(), uuid.New()

	require.NoError(t, rc.SetJobStatus(ctx, userID, jobID, models.JobStatusRunning, 10*time.Second))

	// The same job id under a different owner is a miss.
	_, found, err := rc.GetJobStatus(ctx, uuid.New(), jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobStatus_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	userID, jobID := uuid.New(), uuid.New()

	require.NoError(t, rc.SetJobStatus(ctx, userID, jobID, models.JobStatusSucceeded, 500*time.Millisecond))
	time.Sleep(time.Second)

	_, found, err := rc.GetJobStatus(ctx, userID, jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Owner lock ---

func TestOwnerLock_SingleHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	userID := uuid.New()

	locked, err := rc.AcquireOwnerLock(ctx, userID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = rc.AcquireOwnerLock(ctx, userID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, locked, "second acquisition must fail while the lock is held")

	// A different user is unaffected.
	locked, err = rc.AcquireOwnerLock(ctx, uuid.New(), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestOwnerLock_ReleaseAllowsReacquire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	userID := uuid.New()

	locked, err := rc.AcquireOwnerLock(ctx, userID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, rc.ReleaseOwnerLock(ctx, userID))

	locked, err = rc.AcquireOwnerLock(ctx, userID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)
}

// --- Rate limit counter ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("rj_test1")

	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
