package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/repository"
)

func TestMetricsServiceObserveStage(t *testing.T) {
	m := NewMetricsService()
	m.ObserveStage(importer.KindStudent, importer.StageCompleted, importer.Counts{Submitted: 5, Created: 3, Updated: 1, Invalid: 1}, 40*time.Millisecond)
	m.ObserveStage(importer.KindStudent, importer.StageCompleted, importer.Counts{Submitted: 2, Created: 2}, 10*time.Millisecond)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.importRows.WithLabelValues("student", "created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.importRows.WithLabelValues("student", "updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.importRows.WithLabelValues("student", "invalid")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.stageStatus.WithLabelValues("student", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetricsServiceDryRunCountsWouldImport(t *testing.T) {
	m := NewMetricsService()
	m.ObserveStage(importer.KindClass, importer.StageDryRun, importer.Counts{Submitted: 2, Valid: 2, Resolved: 2}, time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.importRows.WithLabelValues("class", "would_import")))
}

func TestMetricsServiceHandlerServesRegistry(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/imports", http.StatusCreated, 15*time.Millisecond)
	m.ObserveSubmission(importer.ReportCompleted)
	m.ObserveDBQuery("upsert_student", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="POST",path="/api/v1/imports",status="201"} 1`))
	assert.True(t, strings.Contains(body, `roster_import_submissions_total{status="completed"} 1`))
	assert.True(t, strings.Contains(body, `db_query_duration_seconds_count{query="upsert_student"} 1`))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveStage(importer.KindAccount, importer.StageCompleted, importer.Counts{}, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string, interface{}) error {
	return errors.New("connection refused")
}
func (failingCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("connection refused")
}
func (failingCache) Delete(context.Context, string) error { return errors.New("connection refused") }

func TestCacheServiceHitMissAndRatio(t *testing.T) {
	m := NewMetricsService()
	cache := NewCacheService(repository.NewMemoryCacheRepository(), m, time.Minute, nil)
	ctx := context.Background()

	var out map[string]int
	hit, err := cache.Get(ctx, "imports:missing", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "imports:1", map[string]int{"rows": 4}, 0))
	hit, err = cache.Get(ctx, "imports:1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 4, out["rows"])

	assert.Equal(t, 0.5, testutil.ToFloat64(m.cacheHitRatio))

	require.NoError(t, cache.Delete(ctx, "imports:1"))
	hit, err = cache.Get(ctx, "imports:1", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServicePropagatesBackendErrors(t *testing.T) {
	cache := NewCacheService(failingCache{}, nil, 0, nil)
	ctx := context.Background()

	var out string
	hit, err := cache.Get(ctx, "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
	assert.Error(t, cache.Set(ctx, "k", "v", time.Second))
	assert.Error(t, cache.Delete(ctx, "k"))
}
