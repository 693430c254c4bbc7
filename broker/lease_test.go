package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopLeaseAlwaysAcquires(t *testing.T) {
	l := NoopLease{}
	ok, err := l.TryAcquire(context.Background(), "corr-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Release(context.Background(), "corr-1"))
	assert.NoError(t, l.Close())
}

func newTestRedisLease(t *testing.T, owner string) *RedisLease {
	t.Helper()
	srv := miniredis.RunT(t)
	lease, err := NewRedisLease(context.Background(), "redis://"+srv.Addr(), "", owner)
	require.NoError(t, err)
	t.Cleanup(func() { lease.Close() })
	return lease
}

func TestRedisLeaseBlocksSecondOwner(t *testing.T) {
	srv := miniredis.RunT(t)

	ownerA, err := NewRedisLease(context.Background(), "redis://"+srv.Addr(), "test:", "agent-a")
	require.NoError(t, err)
	defer ownerA.Close()

	ownerB, err := NewRedisLease(context.Background(), "redis://"+srv.Addr(), "test:", "agent-b")
	require.NoError(t, err)
	defer ownerB.Close()

	acquired, err := ownerA.TryAcquire(context.Background(), "corr-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = ownerB.TryAcquire(context.Background(), "corr-1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, ownerA.Release(context.Background(), "corr-1"))

	acquired, err = ownerB.TryAcquire(context.Background(), "corr-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLeaseReacquireBySameOwner(t *testing.T) {
	lease := newTestRedisLease(t, "agent-a")

	ok1, err := lease.TryAcquire(context.Background(), "corr-2", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := lease.TryAcquire(context.Background(), "corr-2", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok2, "the same owner re-acquiring an already-held lease must succeed")
}
