package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func initMockRedis(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_MOCK", "true")
	assert.NoError(t, InitRedis())
	assert.True(t, IsMockMode())
}

func TestElectionConfigCache(t *testing.T) {
	initMockRedis(t)

	_, err := GetCachedElectionConfig("evt-cache-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.NoError(t, CacheElectionConfig("evt-cache-1", `{"title":"t"}`))
	data, err := GetCachedElectionConfig("evt-cache-1")
	assert.NoError(t, err)
	assert.Equal(t, `{"title":"t"}`, data)

	InvalidateElectionConfig("evt-cache-1")
	_, err = GetCachedElectionConfig("evt-cache-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCacheNullElection(t *testing.T) {
	initMockRedis(t)

	CacheNullElection("evt-missing-1")
	data, err := GetCachedElectionConfig("evt-missing-1")
	assert.NoError(t, err)
	assert.Equal(t, "NULL", data)

	// A real config overwrites the null marker
	assert.NoError(t, CacheElectionConfig("evt-missing-1", `{"title":"late"}`))
	data, err = GetCachedElectionConfig("evt-missing-1")
	assert.NoError(t, err)
	assert.Equal(t, `{"title":"late"}`, data)
}

func TestAcquireReleaseLock(t *testing.T) {
	initMockRedis(t)

	locked, err := AcquireLock("scan-1", time.Second)
	assert.NoError(t, err)
	assert.True(t, locked)

	// Second acquisition fails while the lock is held
	locked, err = AcquireLock("scan-1", time.Second)
	assert.NoError(t, err)
	assert.False(t, locked)

	// An unrelated key is unaffected
	locked, err = AcquireLock("scan-2", time.Second)
	assert.NoError(t, err)
	assert.True(t, locked)

	assert.NoError(t, ReleaseLock("scan-1"))
	locked, err = AcquireLock("scan-1", time.Second)
	assert.NoError(t, err)
	assert.True(t, locked)
}

func TestCacheRequiresInit(t *testing.T) {
	// Once InitRedis has run in this binary the guard cannot be observed,
	// so only the mock path is asserted here
	initMockRedis(t)
	_, err := GetClient()
	assert.Error(t, err)
}
