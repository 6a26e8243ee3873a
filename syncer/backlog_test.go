package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBacklog(t *testing.T, opts BacklogOptions) (*DBBacklog, *fakeClock) {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "backlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeDB(db) })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return NewDBBacklog(db, opts), clock
}

func TestDBBacklog_EnqueueIsIdempotent(t *testing.T) {
	b, _ := newTestBacklog(t, BacklogOptions{})
	ctx := context.Background()

	require.NoError(t, b.EnqueueEntry(ctx, "a.com"))
	require.NoError(t, b.EnqueueEntry(ctx, "a.com"))
	require.NoError(t, b.EnqueueEntry(ctx, "b.com"))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Error(t, b.EnqueueEntry(ctx, "  "))
}

func TestDBBacklog_ConcurrentEnqueue(t *testing.T) {
	b, _ := newTestBacklog(t, BacklogOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.EnqueueEntry(ctx, "same.com"))
		}()
	}
	wg.Wait()

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDBBacklog_FailBacksOffAndDrops(t *testing.T) {
	b, clock := newTestBacklog(t, BacklogOptions{BaseDelay: time.Minute, MaxDelay: 3 * time.Minute, MaxAttempts: 4})
	ctx := context.Background()
	require.NoError(t, b.EnqueueEntry(ctx, "a.com"))

	due, err := b.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	dropped, err := b.Fail(ctx, "a.com", errors.New("503"))
	require.NoError(t, err)
	assert.False(t, dropped)

	due, err = b.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before the backoff elapses")

	clock.Advance(time.Minute)
	due, err = b.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "503", due[0].LastError)

	// Second failure doubles the delay.
	_, err = b.Fail(ctx, "a.com", errors.New("503"))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	due, _ = b.Due(ctx, 10)
	assert.Empty(t, due)
	clock.Advance(time.Minute)
	due, _ = b.Due(ctx, 10)
	assert.Len(t, due, 1)

	_, err = b.Fail(ctx, "a.com", nil)
	require.NoError(t, err)
	dropped, err = b.Fail(ctx, "a.com", nil)
	require.NoError(t, err)
	assert.True(t, dropped)

	n, _ := b.Len(ctx)
	assert.Equal(t, int64(0), n)
}

func TestDBBacklog_DoneAndUnknownFail(t *testing.T) {
	b, _ := newTestBacklog(t, BacklogOptions{})
	ctx := context.Background()
	require.NoError(t, b.EnqueueEntry(ctx, "a.com"))
	require.NoError(t, b.Done(ctx, "a.com"))

	n, _ := b.Len(ctx)
	assert.Equal(t, int64(0), n)

	dropped, err := b.Fail(ctx, "missing.com", nil)
	assert.NoError(t, err)
	assert.False(t, dropped)
}

func TestDBBacklog_Backoff(t *testing.T) {
	b, _ := newTestBacklog(t, BacklogOptions{BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	assert.Equal(t, time.Second, b.backoff(1))
	assert.Equal(t, 2*time.Second, b.backoff(2))
	assert.Equal(t, 8*time.Second, b.backoff(4))
	assert.Equal(t, 10*time.Second, b.backoff(5))
	assert.Equal(t, 10*time.Second, b.backoff(50))
}
