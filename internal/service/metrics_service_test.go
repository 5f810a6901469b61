package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshotAndExposition(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/sync-report/:year", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/sync-report/:year", http.StatusOK, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordLink("manual", true)
	m.RecordLink("auto", false)
	m.RecordStoreWriteFailure("link")
	m.ObserveStoreOperation("sync-load", 4*time.Millisecond)
	m.RecordSyncRun(testYear, map[string]int{"new-link-failed": 3}, time.Second, nil)
	m.RecordSyncRun(testYear, nil, time.Second, errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30, snap.AverageRequestDurationMs, 0.001)
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.001)
	assert.Equal(t, uint64(1), snap.LinksCreated)
	assert.Equal(t, uint64(1), snap.StoreWriteFailures)
	assert.Equal(t, uint64(2), snap.SyncRuns)
	assert.Equal(t, uint64(1), snap.StoreOperations)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pasi_links_total{origin="auto",result="failure"} 1`)
	assert.Contains(t, body, `pasi_sync_report_entries{bucket="new-link-failed",school_year="24_25"} 3`)
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordLink("manual", true)
	m.RecordSyncRun(testYear, nil, 0, nil)
	assert.Zero(t, m.Snapshot().RequestsTotal)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
