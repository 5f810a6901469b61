package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

const summaryCachePrefix = "sync-report:summary:"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SummaryCache keeps report summaries per school year. A nil *SummaryCache is a
// disabled cache: every lookup misses and writes are dropped.
type SummaryCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewSummaryCache returns nil when repo is nil.
func NewSummaryCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *SummaryCache {
	if repo == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger}
}

func summaryCacheKey(sy models.SchoolYear) string {
	return summaryCachePrefix + sy.Path()
}

// Load fills dest with the cached summary of sy and reports a hit. Repository
// errors count as misses.
func (c *SummaryCache) Load(ctx context.Context, sy models.SchoolYear, dest *models.SyncReportSummary) bool {
	if c == nil {
		return false
	}
	start := time.Now()
	err := c.repo.Get(ctx, summaryCacheKey(sy), dest)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		c.logger.Warn("summary cache read failed", zap.String("school_year", sy.Path()), zap.Error(err))
	}
	return err == nil
}

// Save caches summary for sy. Failures are logged; the summary is still served.
func (c *SummaryCache) Save(ctx context.Context, sy models.SchoolYear, summary *models.SyncReportSummary) {
	if c == nil {
		return
	}
	start := time.Now()
	err := c.repo.Set(ctx, summaryCacheKey(sy), summary, c.ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("summary cache write failed", zap.String("school_year", sy.Path()), zap.Error(err))
	}
}

// Forget drops the cached summary of sy, or of every year when sy is zero.
func (c *SummaryCache) Forget(ctx context.Context, sy models.SchoolYear) error {
	if c == nil {
		return nil
	}
	pattern := summaryCachePrefix + "*"
	if !sy.IsZero() {
		pattern = summaryCacheKey(sy)
	}
	if err := c.repo.DeleteByPattern(ctx, pattern); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate report summary cache")
	}
	return nil
}

// ForgetOnChange subscribes to the report root of st and drops the summary of
// whichever year a committed write touched.
func (c *SummaryCache) ForgetOnChange(st store.Store) store.Subscription {
	return st.Subscribe(models.SyncReportRoot, func(change store.Change) {
		var sy models.SchoolYear
		if year := reportYearFromPath(change.Path); year != "" {
			parsed, err := models.ParseSchoolYear(year)
			if err == nil {
				sy = parsed
			}
		}
		if err := c.Forget(context.Background(), sy); err != nil {
			c.logger.Warn("summary cache invalidation failed", zap.String("path", change.Path), zap.Error(err))
		}
	})
}

func reportYearFromPath(path string) string {
	rest := strings.TrimPrefix(store.CleanPath(path), models.SyncReportRoot+"/")
	if rest == store.CleanPath(path) || rest == "" {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
