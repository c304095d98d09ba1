//go:build e2e

package app

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	handler "github.com/godilite/kpi-dashboard/internal/grpc"
	"github.com/godilite/kpi-dashboard/internal/repository"
	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/godilite/kpi-dashboard/internal/sheets"
	dbbuilder "github.com/godilite/kpi-dashboard/pkg/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const e2eRows = `{"ok":true,"rows":[
	{"date":"2025-01-01","total":10,"interested":2},
	{"date":"2025-01-02","total":10,"interested":2},
	{"date":"2025-01-03","total":10,"interested":2},
	{"date":"2025-01-04","total":10,"interested":2},
	{"date":"2025-01-05","total":10,"interested":2},
	{"date":"2025-01-06","total":10,"interested":2},
	{"date":"2025-01-07","total":10,"interested":2},
	{"date":"2025-01-08","total":10,"interested":3},
	{"date":"2025-01-09","total":10,"interested":3},
	{"date":"2025-01-10","total":30,"interested":3},
	{"date":"2025-01-11","total":10,"interested":3},
	{"date":"2025-01-12","total":0,"interested":3},
	{"date":"2025-01-13","total":20,"interested":3},
	{"date":"2025-01-14","total":60,"interested":3}
]}`

var testNow = time.Date(2025, 1, 14, 18, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := dbbuilder.New(dbbuilder.WithDataSource(":memory:"))
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db, zap.NewNop()))
	return db
}

// flakySource serves e2eRows until failing is set, then answers like a crashed script.
func flakySource(t *testing.T, failing *atomic.Bool) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"ok":false,"error":"Exceeded maximum execution time"}`))
			return
		}
		_, _ = w.Write([]byte(e2eRows))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestE2E_RefreshThenFailureKeepsSummary(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	var failing atomic.Bool
	source := flakySource(t, &failing)

	store := repository.NewSnapshotRepository(db)
	controller := service.NewController(sheets.NewClient(source.URL), zap.NewNop(),
		service.WithStore(store),
		service.WithClock(func() time.Time { return testNow }),
		service.WithLocation(time.UTC),
	)
	grpcHandlers := handler.NewGRPCHandlers(controller, zap.NewNop(), time.Minute)
	ctx := context.Background()

	_, err := grpcHandlers.Refresh(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	resp, err := grpcHandlers.GetSummary(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	var first service.Summary
	require.NoError(t, handler.DecodeStruct(resp, &first))
	assert.Equal(t, "2025-01-14", first.WeekEnding)
	assert.Equal(t, 140.0, first.Prospects.Value)
	assert.Equal(t, 70.0, first.Prospects.LastWeek)
	assert.Equal(t, 100.0, first.Prospects.ChangePct)
	assert.Equal(t, 42.0, first.MonthGoal.Percent)

	failing.Store(true)
	_, err = grpcHandlers.Refresh(ctx, &emptypb.Empty{})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	resp, err = grpcHandlers.GetSummary(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	var retained service.Summary
	require.NoError(t, handler.DecodeStruct(resp, &retained))
	assert.Equal(t, first, retained)

	st := controller.Status()
	assert.False(t, st.Loading)
	assert.Equal(t, "Exceeded maximum execution time", st.Error)
}

func TestE2E_WarmStartFromSnapshot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	var failing atomic.Bool
	source := flakySource(t, &failing)
	store := repository.NewSnapshotRepository(db)
	ctx := context.Background()

	first := service.NewController(sheets.NewClient(source.URL), zap.NewNop(),
		service.WithStore(store),
		service.WithClock(func() time.Time { return testNow }),
		service.WithLocation(time.UTC),
	)
	require.NoError(t, first.Refresh(ctx))

	// The source is down when the second process starts; the snapshot is shown anyway.
	failing.Store(true)
	second := service.NewController(sheets.NewClient(source.URL), zap.NewNop(), service.WithStore(store))
	second.Start(ctx)
	defer second.Stop()

	summary, ok := second.Summary()
	require.True(t, ok)
	assert.Equal(t, "2025-01-14", summary.WeekEnding)

	st := second.Status()
	assert.False(t, st.Loading)
	require.NotNil(t, st.LastUpdated)
	assert.Equal(t, testNow.UnixMilli(), st.LastUpdated.UnixMilli())

	require.Eventually(t, func() bool { return second.Status().Error != "" }, 5*time.Second, 10*time.Millisecond)
	summary, ok = second.Summary()
	require.True(t, ok)
	assert.Equal(t, "2025-01-14", summary.WeekEnding)
}
