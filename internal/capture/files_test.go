package capture

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/logging"
)

func TestRecover_EnqueuesOrphansByModTime(t *testing.T) {
	dir := t.TempDir()
	older := writeImage(t, dir, "older.png")
	newer := writeImage(t, dir, "newer.jpg")
	writeImage(t, dir, "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0700))

	require.NoError(t, os.Chtimes(older, t0, t0))
	require.NoError(t, os.Chtimes(newer, t0.Add(time.Minute), t0.Add(time.Minute)))

	q := NewQueue()
	n, err := Recover(q, dir, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := q.Drain(0)
	require.Len(t, got, 2)
	assert.Equal(t, older, got[0].Path)
	assert.True(t, got[0].Timestamp.Equal(t0))
	assert.Equal(t, newer, got[1].Path)
}

func TestRecover_MissingDir(t *testing.T) {
	n, err := Recover(NewQueue(), filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCleanupOldImages(t *testing.T) {
	dir := t.TempDir()
	stale := writeImage(t, dir, "stale.png")
	fresh := writeImage(t, dir, "fresh.png")
	other := writeImage(t, dir, "keep.log")

	now := t0.Add(48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, t0, t0))
	require.NoError(t, os.Chtimes(fresh, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(other, t0, t0))

	n, err := CleanupOldImages(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "image/png", MediaType("a.PNG"))
	assert.Equal(t, "image/jpeg", MediaType("/x/b.jpeg"))
	assert.Equal(t, "image/png", MediaType("c.bin"))
	assert.True(t, IsImage("shot.webp"))
	assert.False(t, IsImage("shot.txt"))
}

func TestCommandCapturer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()

	t.Run("writes file", func(t *testing.T) {
		c := NewCommandCapturer(dir, []string{"sh", "-c", "printf png > {path}"})
		c.Now = func() time.Time { return t0 }

		got, err := c.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, dir, filepath.Dir(got.Path))
		assert.True(t, got.Timestamp.Equal(t0))
		assert.FileExists(t, got.Path)
	})

	t.Run("command fails", func(t *testing.T) {
		c := NewCommandCapturer(dir, []string{"sh", "-c", "echo denied >&2; exit 3"})
		_, err := c.Capture(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCapture))
		assert.Contains(t, err.Error(), "denied")
	})

	t.Run("no output file", func(t *testing.T) {
		c := NewCommandCapturer(dir, []string{"true"})
		_, err := c.Capture(context.Background())
		assert.True(t, errors.Is(err, errors.ErrCapture))
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := NewCommandCapturer(dir, nil).Capture(context.Background())
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})
}

func TestWatcher_QueuesNewImages(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue()
	w := NewWatcher(dir, q, 50*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	path := writeImage(t, dir, "drop.png")
	writeImage(t, dir, "ignored.txt")

	require.Eventually(t, func() bool { return q.Len() == 1 }, 3*time.Second, 20*time.Millisecond)
	got := q.Drain(0)
	assert.Equal(t, path, got[0].Path)
}

func TestWatcher_QueuesImagesPresentAtStart(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "before.png")
	q := NewQueue()
	w := NewWatcher(dir, q, 50*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return q.Len() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, path, q.Drain(0)[0].Path)
}
