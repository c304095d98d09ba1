package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	handler "github.com/godilite/kpi-dashboard/internal/grpc"
	"github.com/godilite/kpi-dashboard/internal/repository"
	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/godilite/kpi-dashboard/internal/service/mocks"
	dbbuilder "github.com/godilite/kpi-dashboard/pkg/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const rowsFixture = `{"ok":true,"rows":[
	{"date":"2024-03-04","total":10,"interested":2,"not_interested":3,"follow_up":1,"vm_ringing":3,"dead":1},
	{"date":"2024-03-05","total":"20","interested":4,"gyms":2,"barbershop":1},
	{"date":"not a date","total":99}
]}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSummarizeCommand(t *testing.T) {
	path := writeFixture(t, rowsFixture)

	t.Run("json output", func(t *testing.T) {
		out, err := run(t, "summarize", path, "--now", "2024-03-05", "--format", "json")
		require.NoError(t, err)

		var s service.Summary
		require.NoError(t, json.Unmarshal([]byte(out), &s))
		assert.Equal(t, "2024-03-05", s.WeekEnding)
		assert.Equal(t, 30.0, s.Prospects.Value)
		assert.Equal(t, 30.0, s.MonthGoal.Numerator)
		assert.Equal(t, 6.0, s.MonthGoal.Percent)
		require.Len(t, s.TypeOfBusinessByDay, 2)
		assert.Equal(t, 1.0, s.TypeOfBusinessByDay[1].Barbershop)
	})

	t.Run("table output", func(t *testing.T) {
		out, err := run(t, "summarize", path, "--now", "2024-03-05")
		require.NoError(t, err)

		assert.Contains(t, out, "2024-03-05")
		assert.Contains(t, out, "03/05")
		assert.Contains(t, out, "Dials Total")
		assert.Contains(t, out, "30 / 500")
	})

	t.Run("summary payload is printed as is", func(t *testing.T) {
		summaryPath := writeFixture(t, `{"ok":true,"weekEnding":"2024-01-07","monthGoal":{"percent":1,"numerator":5,"denominator":500}}`)

		out, err := run(t, "summarize", summaryPath, "-f", "json")
		require.NoError(t, err)
		assert.Contains(t, out, `"weekEnding": "2024-01-07"`)
	})

	t.Run("no dated rows", func(t *testing.T) {
		out, err := run(t, "summarize", writeFixture(t, `{"rows":[]}`))
		require.NoError(t, err)
		assert.Contains(t, out, "(no dated rows)")
	})

	t.Run("errors", func(t *testing.T) {
		_, err := run(t, "summarize", path, "--format", "xml")
		assert.ErrorContains(t, err, `unknown format "xml"`)

		_, err = run(t, "summarize", path, "--now", "03/05/2024")
		assert.ErrorContains(t, err, "--now must be YYYY-MM-DD")

		_, err = run(t, "summarize", filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorContains(t, err, "read rows")

		_, err = run(t, "summarize", writeFixture(t, `{"data":1}`))
		assert.ErrorIs(t, err, service.ErrUnknownPayload)

		_, err = run(t, "summarize")
		assert.Error(t, err)
	})
}

func TestFetchCommand(t *testing.T) {
	path := writeFixture(t, rowsFixture)

	out, err := run(t, "fetch", "--url", "file://"+path, "-f", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"weekEnding": "2024-03-05"`)

	t.Run("missing url", func(t *testing.T) {
		t.Setenv("SHEETS_API_URL", "")
		_, err := run(t, "fetch")
		assert.EqualError(t, err, "SHEETS_API_URL missing")
	})
}

func TestStatusCommand(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	var refreshed atomic.Bool
	ctrl := &mocks.MockController{
		StatusFunc: func() service.Status {
			return service.Status{WeekEnding: "2024-03-10", Error: "API returned an error"}
		},
		RefreshFunc: func(context.Context) error {
			refreshed.Store(true)
			return nil
		},
	}
	handler.RegisterDashboardServer(srv, handler.NewGRPCHandlers(ctrl, zap.NewNop(), 0))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	out, err := run(t, "status", "--addr", lis.Addr().String())
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-10")
	assert.Contains(t, out, "API returned an error")
	assert.False(t, refreshed.Load())

	out, err = run(t, "status", "--addr", lis.Addr().String(), "--refresh", "-f", "json")
	require.NoError(t, err)
	assert.True(t, refreshed.Load())
	var st service.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "2024-03-10", st.WeekEnding)
}

func TestSnapshotsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kpi.db")

	t.Run("missing database", func(t *testing.T) {
		_, err := run(t, "snapshots", "--db", dbPath)
		assert.ErrorContains(t, err, "open snapshot store")
	})

	db, err := dbbuilder.New(dbbuilder.WithDataSource(dbPath))
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db, zap.NewNop()))
	repo := repository.NewSnapshotRepository(db)

	out, err := run(t, "snapshots", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(no snapshots)")

	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, service.CacheKey, service.Summary{WeekEnding: "2024-03-10"}, 0))
	require.NoError(t, repo.Set(ctx, service.TimestampKey, int64(1710064800000), 0))
	require.NoError(t, repo.Close())

	out, err = run(t, "snapshots", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, service.CacheKey)
	assert.Contains(t, out, service.TimestampKey)
	assert.Contains(t, out, "never")
}
