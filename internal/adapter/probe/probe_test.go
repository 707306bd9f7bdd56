package probe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/platform/httpclient"
	"driftd/pkg/drift"
)

func TestProbe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(httpclient.New(), Config{Name: "api", URL: srv.URL})
	require.NoError(t, p.Execute(drift.NewToken()))

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Checks)
	assert.Zero(t, st.Failures)
	assert.Equal(t, http.StatusOK, st.LastStatus)
	assert.False(t, st.LastCheck.IsZero())
	assert.Equal(t, "api", p.Name())
}

func TestProbe_UnexpectedStatusAndRecovery(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := New(httpclient.New(), Config{URL: srv.URL})

	for range 2 {
		err := p.Execute(drift.NewToken())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnexpectedStatus))
	}
	st := p.Stats()
	assert.Equal(t, uint64(2), st.ConsecutiveFailures)
	assert.Equal(t, http.StatusNotFound, st.LastStatus)
	assert.Contains(t, st.LastError, "got 404")

	status.Store(http.StatusOK)
	require.NoError(t, p.Execute(drift.NewToken()))
	st = p.Stats()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, uint64(2), st.Failures)
	assert.Equal(t, uint64(3), st.Checks)
	assert.Empty(t, st.LastError)
}

func TestProbe_ExpectsRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(httpclient.New(), Config{URL: srv.URL, Method: http.MethodHead, ExpectStatus: http.StatusServiceUnavailable})
	assert.NoError(t, p.Execute(drift.NewToken()))

	p = New(httpclient.New(), Config{URL: srv.URL})
	assert.ErrorIs(t, p.Execute(drift.NewToken()), ErrUnexpectedStatus)
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	p := New(httpclient.New(), Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	assert.Error(t, p.Execute(drift.NewToken()))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestProbe_CancelledToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	token := drift.NewToken()
	token.Cancel()

	p := New(httpclient.New(), Config{URL: srv.URL})
	assert.Error(t, p.Execute(token))
	assert.Equal(t, uint64(1), p.Stats().Failures)
}

func TestProbe_AsScheduledDrifter(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := New(httpclient.New(), Config{URL: srv.URL})
	token := drift.ScheduleDrifter(20*time.Millisecond, p, drift.WithName("probe"))
	defer token.Cancel()

	require.Eventually(t, func() bool { return p.Stats().Checks >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, hits.Load(), int64(3))
}
