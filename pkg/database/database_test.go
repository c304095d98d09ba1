package database

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("in-memory database is pinned to one connection", func(t *testing.T) {
		db, err := New(WithDataSource(":memory:"), WithMaxOpenConns(10))
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, 1, db.Stats().MaxOpenConnections)

		_, err = db.Exec(`CREATE TABLE t (id INTEGER)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO t VALUES (1)`)
		assert.NoError(t, err)
	})

	t.Run("file database creates its directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "kpi.db")

		db, err := New(WithDataSource(path))
		require.NoError(t, err)
		defer db.Close()

		assert.FileExists(t, path)
	})

	t.Run("empty driver", func(t *testing.T) {
		_, err := New(WithDriver(""))
		assert.EqualError(t, err, "database driver cannot be empty")
	})

	t.Run("unknown driver fails after retries", func(t *testing.T) {
		_, err := New(WithDriver("nope"), WithRetry(2, time.Millisecond))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
	})
}

func TestIsMemory(t *testing.T) {
	assert.True(t, isMemory(":memory:"))
	assert.True(t, isMemory("file:kpi?mode=memory&cache=shared"))
	assert.False(t, isMemory("./data/kpi.db"))
}
