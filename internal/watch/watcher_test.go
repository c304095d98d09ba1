package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type countingBroadcaster struct {
	n atomic.Int32
}

func (c *countingBroadcaster) Broadcast() { c.n.Add(1) }

func TestNewFixtureWatcher(t *testing.T) {
	assert.Panics(t, func() { NewFixtureWatcher("rows.json", nil, 0, nil) })

	w := NewFixtureWatcher("./data/../rows.json", &countingBroadcaster{}, 0, nil)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.Equal(t, "rows.json", w.path)
}

func TestFixtureWatcher_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rows":[]}`), 0o600))

	target := &countingBroadcaster{}
	w := NewFixtureWatcher(path, target, 50*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// fsnotify registers the directory asynchronously with Run; give it a moment.
	time.Sleep(100 * time.Millisecond)

	t.Run("burst of writes is debounced", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, os.WriteFile(path, []byte(`{"rows":[{"total":1}]}`), 0o600))
		}

		require.Eventually(t, func() bool { return target.n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), target.n.Load())
	})

	t.Run("other files are ignored", func(t *testing.T) {
		before := target.n.Load()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, before, target.n.Load())
	})

	cancel()
	require.NoError(t, <-done)
}

func TestFixtureWatcher_MissingDirectory(t *testing.T) {
	w := NewFixtureWatcher(filepath.Join(t.TempDir(), "missing", "rows.json"), &countingBroadcaster{}, 0, nil)

	err := w.Run(context.Background())

	assert.ErrorContains(t, err, "watch")
}
