package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"scopusharvest/pkg/logger"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RequestIssued()
	m.RequestIssued()
	m.RequestFailed("server_error")
	m.PageFetched(25, 120*time.Millisecond)
	m.ChunkWritten(25)
	m.SetBudgetRemaining(98)
	m.SetServerQuotaRemaining(-1)
	m.RunFinished("quota_exhausted", true, time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestErrorsTotal.WithLabelValues("server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesFetchedTotal))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.RecordsFetchedTotal))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.RecordsWrittenTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksWrittenTotal))
	assert.Equal(t, 98.0, testutil.ToFloat64(m.BudgetRemaining))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ServerQuotaRemaining))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("quota_exhausted")))
	assert.Greater(t, testutil.ToFloat64(m.LastRunSuccessSeconds), 0.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg, m := NewRegistry()
	m.RequestIssued()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "scopusharvest_requests_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestListenRejectsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, err = Listen(busy.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), busy.Addr().String())
}

func TestServeUntilContextDone(t *testing.T) {
	reg, m := NewRegistry()
	m.RequestIssued()

	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, reg, logger.NewNopLogger()) }()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "scopusharvest_requests_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReturnsListenerError(t *testing.T) {
	reg, _ := NewRegistry()
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = Serve(context.Background(), ln, reg, logger.NewNopLogger())
	assert.Error(t, err)
}
