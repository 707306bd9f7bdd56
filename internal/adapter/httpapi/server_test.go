package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/adapter/metrics"
	"driftd/internal/adapter/probe"
	"driftd/internal/adapter/scheduler"
	"driftd/internal/history"
	"driftd/internal/platform/httpclient"
	"driftd/internal/shared"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHistory struct {
	records  []history.Record
	err      error
	schedule string
	limit    int
}

func (f *fakeHistory) Recent(_ context.Context, schedule string, limit int) ([]history.Record, error) {
	f.schedule, f.limit = schedule, limit
	return f.records, f.err
}

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, string) {
	t.Helper()
	s := scheduler.New(scheduler.Config{})
	t.Cleanup(s.Stop)

	id, err := s.AddTickerJobWithOptions(time.Hour, func(context.Context) error { return nil },
		scheduler.JobOptions{Name: "backup"})
	require.NoError(t, err)
	return s, id
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	s, _ := newTestScheduler(t)
	r := NewRouter(Deps{Registry: s})

	w, body := do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not started yet")
	assert.Equal(t, "stopped", body["status"])

	s.Start()
	w, body = do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["schedules"])
}

func TestListAndGet(t *testing.T) {
	s, id := newTestScheduler(t)
	r := NewRouter(Deps{Registry: s})

	w, body := do(t, r, http.MethodGet, "/schedules")
	require.Equal(t, http.StatusOK, w.Code)
	list := body["schedules"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["id"])

	w, body = do(t, r, http.MethodGet, "/schedules/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backup", body["name"])
	assert.Equal(t, "interval", body["kind"])
	assert.Equal(t, "pending", body["state"])

	w, body = do(t, r, http.MethodGet, "/schedules/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", body["kind"])
}

func TestGetIncludesProbeStats(t *testing.T) {
	s, id := newTestScheduler(t)
	p := probe.New(httpclient.New(), probe.Config{Name: "backup", URL: "http://127.0.0.1:1"})
	r := NewRouter(Deps{Registry: s, Probes: map[string]*probe.Probe{"backup": p}})

	_, body := do(t, r, http.MethodGet, "/schedules/"+id)
	assert.Contains(t, body, "probe")
}

func TestHistory(t *testing.T) {
	s, id := newTestScheduler(t)
	h := &fakeHistory{records: []history.Record{{ID: 2, Schedule: "backup", Tick: 2, Kind: "tick-success"}}}
	r := NewRouter(Deps{Registry: s, History: h})

	w, body := do(t, r, http.MethodGet, "/schedules/"+id+"/history?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backup", h.schedule, "history is looked up by schedule name")
	assert.Equal(t, 10, h.limit)
	assert.Len(t, body["records"], 1)

	_, _ = do(t, r, http.MethodGet, "/schedules/"+id+"/history")
	assert.Equal(t, defaultHistoryLimit, h.limit)

	for _, bad := range []string{"0", "-1", "abc", "501"} {
		w, _ = do(t, r, http.MethodGet, "/schedules/"+id+"/history?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}

	h.err = errors.New("db down")
	w, _ = do(t, r, http.MethodGet, "/schedules/"+id+"/history")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHistoryDisabled(t *testing.T) {
	s, id := newTestScheduler(t)
	r := NewRouter(Deps{Registry: s})

	w, _ := do(t, r, http.MethodGet, "/schedules/"+id+"/history")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancel(t *testing.T) {
	s, id := newTestScheduler(t)
	r := NewRouter(Deps{Registry: s})

	w, body := do(t, r, http.MethodPost, "/schedules/"+id+"/cancel")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "stopped", body["state"])

	w, _ = do(t, r, http.MethodPost, "/schedules/missing/cancel")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestScheduler(t)

	w, _ := do(t, NewRouter(Deps{Registry: s}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, NewRouter(Deps{Registry: s, Metrics: metrics.New().Handler()}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind shared.Kind
		want int
	}{
		{shared.KindNotFound, http.StatusNotFound},
		{shared.KindValidation, http.StatusBadRequest},
		{shared.KindConflict, http.StatusConflict},
		{shared.KindTimeout, http.StatusGatewayTimeout},
		{shared.KindDependencyFailure, http.StatusBadGateway},
		{shared.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(shared.MarkKind(errors.New("x"), tt.kind)))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("plain")))
}

func TestNewServer(t *testing.T) {
	s, _ := newTestScheduler(t)
	srv := NewServer(":0", Deps{Registry: s})
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
