package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	deleted   int64
	err       error
	retention time.Duration
}

func (c *fakeCleaner) CleanUp(_ context.Context, retention time.Duration) (int64, error) {
	c.retention = retention
	return c.deleted, c.err
}

type fakePurger struct{ purged int }

func (p *fakePurger) Purge() { p.purged++ }

type syncerFunc func(ctx context.Context) error

func (f syncerFunc) RunCycle(ctx context.Context) error { return f(ctx) }

func TestCleanupJob(t *testing.T) {
	ctx := context.Background()
	retention := 14 * 24 * time.Hour

	t.Run("purges when keys were deleted", func(t *testing.T) {
		c, p := &fakeCleaner{deleted: 3}, &fakePurger{}
		require.NoError(t, CleanupJob(c, p, retention)(ctx))
		assert.Equal(t, retention, c.retention)
		assert.Equal(t, 1, p.purged)
	})
	t.Run("keeps cache when nothing was deleted", func(t *testing.T) {
		c, p := &fakeCleaner{}, &fakePurger{}
		require.NoError(t, CleanupJob(c, p, retention)(ctx))
		assert.Equal(t, 0, p.purged)
	})
	t.Run("store errors surface", func(t *testing.T) {
		c, p := &fakeCleaner{err: errors.New("db down")}, &fakePurger{}
		assert.EqualError(t, CleanupJob(c, p, retention)(ctx), "db down")
		assert.Equal(t, 0, p.purged)
	})
	t.Run("nil purger", func(t *testing.T) {
		assert.NoError(t, CleanupJob(&fakeCleaner{deleted: 1}, nil, retention)(ctx))
	})
}

func TestSchedulerAdd(t *testing.T) {
	s := New(context.Background())
	assert.NoError(t, s.Add("sync", "@every 5m", SyncJob(syncerFunc(func(context.Context) error { return nil }))))
	assert.NoError(t, s.Add("cleanup", "0 3 * * *", CleanupJob(&fakeCleaner{}, nil, time.Hour)))
	assert.Error(t, s.Add("broken", "every five minutes", func(context.Context) error { return nil }))
	assert.Equal(t, 2, s.Entries())
}

func TestSchedulerRuns(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background())
	require.NoError(t, s.Add("sync", "@every 1s", SyncJob(syncerFunc(func(context.Context) error {
		runs.Add(1)
		return errors.New("gateway unreachable")
	}))))
	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRunNow(t *testing.T) {
	var ran bool
	s := New(context.Background())
	s.RunNow("once", func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
}
