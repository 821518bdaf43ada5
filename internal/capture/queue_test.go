package capture

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("png"), 0600))
	return path
}

func TestQueue_BatchScenario(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: t0}
	q := NewQueue(WithQueueClock(clock.Now))

	paths := []string{
		writeImage(t, dir, "a.png"),
		writeImage(t, dir, "b.png"),
		writeImage(t, dir, "c.png"),
	}

	require.NoError(t, q.Enqueue(focus.Capture{Path: paths[0], Timestamp: t0}))
	assert.False(t, q.IsReady(2, 120*time.Second))

	require.NoError(t, q.Enqueue(focus.Capture{Path: paths[1], Timestamp: t0.Add(10 * time.Second)}))
	assert.True(t, q.IsReady(2, 120*time.Second), "size trigger")

	require.NoError(t, q.Enqueue(focus.Capture{Path: paths[2], Timestamp: t0.Add(20 * time.Second)}))

	batch := q.Drain(2)
	require.Len(t, batch, 2)
	assert.Equal(t, paths[0], batch[0].Path)
	assert.Equal(t, paths[1], batch[1].Path)
	assert.Equal(t, 1, q.Len())

	assert.False(t, q.IsReady(2, 120*time.Second), "one item left and interval not elapsed")

	clock.Advance(119 * time.Second)
	assert.False(t, q.IsReady(2, 120*time.Second))

	clock.Advance(time.Second)
	assert.True(t, q.IsReady(2, 120*time.Second), "interval trigger")

	rest := q.Drain(2)
	require.Len(t, rest, 1)
	assert.Equal(t, paths[2], rest[0].Path)
}

func TestQueue_DrainOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue()

	late := writeImage(t, dir, "late.png")
	early := writeImage(t, dir, "early.png")
	mid := writeImage(t, dir, "mid.png")

	require.NoError(t, q.Enqueue(focus.Capture{Path: late, Timestamp: t0.Add(2 * time.Minute)}))
	require.NoError(t, q.Enqueue(focus.Capture{Path: early, Timestamp: t0}))
	require.NoError(t, q.Enqueue(focus.Capture{Path: mid, Timestamp: t0.Add(time.Minute)}))

	got := q.Drain(0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{early, mid, late}, []string{got[0].Path, got[1].Path, got[2].Path})
	assert.Empty(t, q.Drain(10))
}

func TestQueue_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue()

	first := writeImage(t, dir, "first.png")
	second := writeImage(t, dir, "second.png")
	require.NoError(t, q.Enqueue(focus.Capture{Path: first, Timestamp: t0}))
	require.NoError(t, q.Enqueue(focus.Capture{Path: second, Timestamp: t0}))

	got := q.Drain(0)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0].Path)
	assert.Equal(t, second, got[1].Path)
}

func TestQueue_EnqueueMissingFile(t *testing.T) {
	q := NewQueue()
	err := q.Enqueue(focus.Capture{Path: filepath.Join(t.TempDir(), "gone.png"), Timestamp: t0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DuplicatePathIgnored(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue()
	path := writeImage(t, dir, "a.png")

	require.NoError(t, q.Enqueue(focus.Capture{Path: path, Timestamp: t0}))
	require.NoError(t, q.Enqueue(focus.Capture{Path: path, Timestamp: t0.Add(time.Second)}))
	assert.Equal(t, 1, q.Len())

	// Once drained the same path may be queued again
	q.Drain(0)
	require.NoError(t, q.Enqueue(focus.Capture{Path: path, Timestamp: t0}))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EmptyDrainResetsInterval(t *testing.T) {
	clock := &fakeClock{t: t0}
	q := NewQueue(WithQueueClock(clock.Now))

	clock.Advance(2 * time.Minute)
	require.True(t, q.IsReady(12, 2*time.Minute))

	assert.Empty(t, q.Drain(12))
	assert.Equal(t, clock.Now(), q.LastDrain())
	assert.False(t, q.IsReady(12, 2*time.Minute))
}

func TestQueue_ConcurrentDrainNeverDuplicates(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue()
	for i := 0; i < 50; i++ {
		path := writeImage(t, dir, focus.NewID(t0)+".png")
		require.NoError(t, q.Enqueue(focus.Capture{Path: path, Timestamp: t0.Add(time.Duration(i) * time.Second)}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch := q.Drain(3)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, c := range batch {
					seen[c.Path]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for path, n := range seen {
		assert.Equal(t, 1, n, path)
	}
}
