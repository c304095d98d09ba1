package sheets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const summaryBody = `{"ok":true,"weekEnding":"2024-03-10","dialCountLast7":[],"prospectsDialedLast7":[],
	"prospectQuality":[],"prospects":{"value":0,"changePct":0,"lastWeek":0},
	"monthGoal":{"percent":10,"numerator":50,"denominator":500},
	"kpiCards":{"dialsTotal":0,"interested":0,"nurtured":0,"clients":0,
		"lastWeek":{"dialsTotal":0,"interested":0,"nurtured":0,"clients":0}},
	"typeOfBusinessByDay":[]}`

func TestDecode(t *testing.T) {
	t.Run("summary shape is used directly", func(t *testing.T) {
		p, err := Decode([]byte(summaryBody), http.StatusOK)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadSummary, p.Kind)
		require.NotNil(t, p.Summary)
		assert.Equal(t, "2024-03-10", p.Summary.WeekEnding)
		assert.Equal(t, 50.0, p.Summary.MonthGoal.Numerator)
	})

	t.Run("rows shape", func(t *testing.T) {
		p, err := Decode([]byte(`{"ok":true,"rows":[{"date":"2024-03-05","total":5},{"total":2}]}`), http.StatusOK)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadRows, p.Kind)
		require.Len(t, p.Rows, 2)
		assert.Equal(t, 5.0, p.Rows[0].Total)
		assert.False(t, p.Rows[1].HasDate())
	})

	t.Run("rows that are not objects are kept as dateless rows", func(t *testing.T) {
		p, err := Decode([]byte(`{"rows":[{"date":"2024-03-05","total":5},"junk",null,[1,2],42]}`), http.StatusOK)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadRows, p.Kind)
		require.Len(t, p.Rows, 5)
		assert.True(t, p.Rows[0].HasDate())
		for _, row := range p.Rows[1:] {
			assert.Equal(t, service.RawRow{}, row)
		}

		s := service.Summarize(p.Rows, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, "2024-03-05", s.WeekEnding)
		assert.Equal(t, 5.0, s.Prospects.Value)
	})

	t.Run("out of range numbers default to zero", func(t *testing.T) {
		p, err := Decode([]byte(`{"rows":[{"date":"2024-03-05","total":1e400,"interested":2}]}`), http.StatusOK)

		require.NoError(t, err)
		require.Len(t, p.Rows, 1)
		assert.Equal(t, 0.0, p.Rows[0].Total)
		assert.Equal(t, 2.0, p.Rows[0].Interested)
	})

	t.Run("null body is a generic api error", func(t *testing.T) {
		_, err := Decode([]byte(`null`), http.StatusOK)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusOK, apiErr.StatusCode)
		assert.EqualError(t, err, "API returned an error")
	})

	t.Run("weekEnding without monthGoal falls through to rows", func(t *testing.T) {
		p, err := Decode([]byte(`{"weekEnding":"2024-03-10","rows":[]}`), http.StatusOK)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadRows, p.Kind)
		assert.Empty(t, p.Rows)
	})

	t.Run("empty weekEnding is not a summary", func(t *testing.T) {
		_, err := Decode([]byte(`{"weekEnding":"","monthGoal":{}}`), http.StatusOK)

		assert.ErrorIs(t, err, ErrUnexpectedShape)
	})

	t.Run("ok false carries the api message", func(t *testing.T) {
		_, err := Decode([]byte(`{"ok":false,"error":"Sheet 'KPI' not found"}`), http.StatusOK)

		assert.ErrorIs(t, err, ErrAPIReported)
		assert.EqualError(t, err, "Sheet 'KPI' not found")
	})

	t.Run("ok false without message is generic", func(t *testing.T) {
		_, err := Decode([]byte(`{"ok":false}`), http.StatusOK)

		assert.EqualError(t, err, "API returned an error")
	})

	t.Run("non-2xx status", func(t *testing.T) {
		_, err := Decode([]byte(`{"error":"quota exceeded"}`), http.StatusTooManyRequests)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Equal(t, "quota exceeded", err.Error())
	})

	t.Run("non-2xx html body", func(t *testing.T) {
		_, err := Decode([]byte(`<html>bad gateway</html>`), http.StatusBadGateway)

		assert.ErrorIs(t, err, ErrAPIReported)
	})

	t.Run("unknown shape", func(t *testing.T) {
		_, err := Decode([]byte(`{"data":[1,2,3]}`), http.StatusOK)

		assert.ErrorIs(t, err, ErrUnexpectedShape)
		assert.ErrorIs(t, err, service.ErrUnknownPayload)
	})

	t.Run("rows must be an array", func(t *testing.T) {
		_, err := Decode([]byte(`{"rows":{"date":"2024-03-05"}}`), http.StatusOK)

		assert.ErrorIs(t, err, ErrUnexpectedShape)
	})

	t.Run("non-object body", func(t *testing.T) {
		_, err := Decode([]byte(`[1,2]`), http.StatusOK)

		assert.ErrorIs(t, err, ErrUnexpectedShape)
	})
}

func TestClient_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("missing url is a configuration error", func(t *testing.T) {
		_, err := NewClient("").Fetch(ctx)

		assert.ErrorIs(t, err, ErrConfigMissing)
		assert.EqualError(t, err, "SHEETS_API_URL missing")
	})

	t.Run("http get without caching", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rows":[{"date":"2024-03-05","total":"7"}]}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, WithLogger(zaptest.NewLogger(t)), WithHTTPClient(srv.Client()))
		p, err := c.Fetch(ctx)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadRows, p.Kind)
		assert.Equal(t, 7.0, p.Rows[0].Total)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"ok":false,"error":"script crashed"}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL).Fetch(ctx)

		assert.EqualError(t, err, "script crashed")
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		_, err := NewClient(addr).Fetch(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch kpi")
	})

	t.Run("file fixture", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rows.json")
		require.NoError(t, os.WriteFile(path, []byte(summaryBody), 0o600))

		p, err := NewClient("file://" + path).Fetch(ctx)

		require.NoError(t, err)
		assert.Equal(t, service.PayloadSummary, p.Kind)
	})

	t.Run("missing file fixture", func(t *testing.T) {
		_, err := NewClient("file:///does/not/exist.json").Fetch(ctx)

		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
