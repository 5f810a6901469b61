package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
)

type failingCacheRepo struct {
	*cacheRepoStub
}

func (failingCacheRepo) Get(context.Context, string, interface{}) error {
	return errors.New("redis: connection refused")
}

func (failingCacheRepo) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestSummaryCacheDisabled(t *testing.T) {
	var cache *SummaryCache
	assert.Nil(t, NewSummaryCache(nil, nil, time.Minute, nil))

	var out models.SyncReportSummary
	assert.False(t, cache.Load(context.Background(), testYear, &out))
	cache.Save(context.Background(), testYear, &models.SyncReportSummary{SchoolYear: "24/25"})
	assert.NoError(t, cache.Forget(context.Background(), testYear))
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	repo := newCacheRepoStub()
	metrics := NewMetricsService()
	cache := NewSummaryCache(repo, metrics, time.Minute, zap.NewNop())
	ctx := context.Background()
	other := models.MustSchoolYear("23_24")

	var out models.SyncReportSummary
	assert.False(t, cache.Load(ctx, testYear, &out))

	cache.Save(ctx, testYear, &models.SyncReportSummary{SchoolYear: "24/25", Counts: map[string]int{"new-link-failed": 2}})
	cache.Save(ctx, other, &models.SyncReportSummary{SchoolYear: "23/24"})
	require.True(t, cache.Load(ctx, testYear, &out))
	assert.Equal(t, 2, out.Counts["new-link-failed"])

	require.NoError(t, cache.Forget(ctx, testYear))
	assert.False(t, cache.Load(ctx, testYear, &out))
	assert.True(t, cache.Load(ctx, other, &out))

	require.NoError(t, cache.Forget(ctx, models.SchoolYear{}))
	assert.False(t, cache.Load(ctx, other, &out))
	assert.Equal(t, []string{"sync-report:summary:24_25", "sync-report:summary:*"}, repo.deleted)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(3), snap.CacheMisses)
}

func TestSummaryCacheRepositoryErrorsAreMisses(t *testing.T) {
	cache := NewSummaryCache(failingCacheRepo{newCacheRepoStub()}, nil, time.Minute, nil)

	var out models.SyncReportSummary
	assert.False(t, cache.Load(context.Background(), testYear, &out))
	cache.Save(context.Background(), testYear, &out)
}

func TestSummaryCacheForgetsOnlyTouchedYear(t *testing.T) {
	st := store.NewMemoryStore()
	repo := newCacheRepoStub()
	cache := NewSummaryCache(repo, nil, time.Minute, nil)
	sub := cache.ForgetOnChange(st)
	defer sub.Unsubscribe()

	seed(t, st, map[string]interface{}{models.ReportMetaPath(testYear): models.SyncReportMeta{SchoolYear: "24/25"}})
	seed(t, st, map[string]interface{}{models.SyncReportRoot: map[string]interface{}{"note": "x"}})
	seed(t, st, map[string]interface{}{models.LinksRoot + "/l1/asn": "123456789"})

	assert.Equal(t, []string{"sync-report:summary:24_25", "sync-report:summary:*"}, repo.deleted)
}

func TestReportYearFromPath(t *testing.T) {
	assert.Equal(t, "24_25", reportYearFromPath(models.EntryPath(testYear, models.BucketNewLinkFailed, "k")))
	assert.Equal(t, "24_25", reportYearFromPath(models.ReportPath(testYear)))
	assert.Equal(t, "", reportYearFromPath(models.SyncReportRoot))
	assert.Equal(t, "", reportYearFromPath(models.LinksRoot))
}
