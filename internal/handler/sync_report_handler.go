package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/middleware"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/response"
)

const watchHeartbeat = 25 * time.Second

type syncReportService interface {
	Summary(ctx context.Context, sy models.SchoolYear) (*models.SyncReportSummary, bool, error)
	ListBucket(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, filter models.SyncReportFilter) ([]models.SyncReportEntry, *models.Pagination, error)
	SetChecked(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, entryKey string, checked bool) (*models.SyncReportEntry, error)
	Export(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, format string, filter models.SyncReportFilter) (*dto.ExportFile, error)
	Watch(sy models.SchoolYear, fn func(models.ReportChange)) store.Subscription
}

type syncRunService interface {
	Enqueue(sy models.SchoolYear) (*dto.RunStatus, error)
	Status(sy models.SchoolYear) (*dto.RunStatus, bool)
	OpenSnapshot(sy models.SchoolYear, runID string) (*os.File, string, error)
}

// SyncReportHandler exposes the sync report and classification runs.
type SyncReportHandler struct {
	reports syncReportService
	runs    syncRunService
	logger  *zap.Logger
}

// NewSyncReportHandler builds a new handler.
func NewSyncReportHandler(reports syncReportService, runs syncRunService, logger *zap.Logger) *SyncReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncReportHandler{reports: reports, runs: runs, logger: logger}
}

// Summary godoc
// @Summary Sync report summary
// @Tags SyncReport
// @Produce json
// @Param year path string true "School year (24_25)"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year} [get]
func (h *SyncReportHandler) Summary(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.reports.Summary(c.Request.Context(), sy)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}

// ListBucket godoc
// @Summary List report bucket entries
// @Tags SyncReport
// @Produce json
// @Param year path string true "School year (24_25)"
// @Param bucket path string true "Bucket name, e.g. needs-manual-mapping"
// @Param search query string false "Free text search"
// @Param checked query bool false "Filter by checked flag"
// @Param flagged query bool false "Filter by review flag"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param sortBy query string false "studentName, asn, courseCode, reason or classifiedAt"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year}/buckets/{bucket} [get]
func (h *SyncReportHandler) ListBucket(c *gin.Context) {
	sy, bucket, filter, ok := h.bucketRequest(c)
	if !ok {
		return
	}
	entries, pagination, err := h.reports.ListBucket(c.Request.Context(), sy, bucket, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.BucketListItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.BucketListItem{EntryKey: entry.Key, SyncReportEntry: entry})
	}
	response.JSON(c, http.StatusOK, items, pagination, map[string]interface{}{"bucket": bucket.Name()})
}

// SetChecked godoc
// @Summary Mark a report entry as reviewed
// @Tags SyncReport
// @Accept json
// @Produce json
// @Param year path string true "School year (24_25)"
// @Param bucket path string true "Bucket name"
// @Param entryKey path string true "Entry key"
// @Param payload body dto.SetCheckedRequest true "Checked flag"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year}/buckets/{bucket}/{entryKey}/checked [patch]
func (h *SyncReportHandler) SetChecked(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	bucket, err := bucketParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SetCheckedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checked payload"))
		return
	}
	entry, err := h.reports.SetChecked(c.Request.Context(), sy, bucket, c.Param("entryKey"), *req.Checked)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.BucketListItem{EntryKey: entry.Key, SyncReportEntry: *entry}, nil)
}

// Export godoc
// @Summary Export a report bucket
// @Tags SyncReport
// @Produce text/csv
// @Produce application/pdf
// @Param year path string true "School year (24_25)"
// @Param bucket path string true "Bucket name"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /sync-report/{year}/buckets/{bucket}/export [get]
func (h *SyncReportHandler) Export(c *gin.Context) {
	sy, bucket, filter, ok := h.bucketRequest(c)
	if !ok {
		return
	}
	file, err := h.reports.Export(c.Request.Context(), sy, bucket, c.Query("format"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Watch godoc
// @Summary Stream report changes
// @Description Server-sent events; one "change" event per committed write under the report.
// @Tags SyncReport
// @Produce text/event-stream
// @Param year path string true "School year (24_25)"
// @Success 200 "Event stream"
// @Router /sync-report/{year}/watch [get]
func (h *SyncReportHandler) Watch(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	events := make(chan models.ReportChange, 64)
	sub := h.reports.Watch(sy, func(change models.ReportChange) {
		select {
		case events <- change:
		default:
			h.logger.Warn("report watcher lagging, change dropped", zap.String("path", change.Path))
		}
	})
	defer sub.Unsubscribe()

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", gin.H{"schoolYear": sy.Display()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change := <-events:
			c.SSEvent("change", change)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

// EnqueueRun godoc
// @Summary Start a classification run
// @Tags SyncReport
// @Produce json
// @Param year path string true "School year (24_25)"
// @Success 202 {object} response.Envelope
// @Router /sync-report/{year}/runs [post]
func (h *SyncReportHandler) EnqueueRun(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.runs.Enqueue(sy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, status, nil)
}

// LatestRun godoc
// @Summary Latest classification run status
// @Tags SyncReport
// @Produce json
// @Param year path string true "School year (24_25)"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year}/runs/latest [get]
func (h *SyncReportHandler) LatestRun(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, ok := h.runs.Status(sy)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no run recorded for "+sy.Display()))
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// RunSnapshot godoc
// @Summary Download the CSV snapshot of a run
// @Tags SyncReport
// @Produce text/csv
// @Param year path string true "School year (24_25)"
// @Param runId path string true "Run ID"
// @Success 200 {file} file
// @Router /sync-report/{year}/runs/{runId}/snapshot [get]
func (h *SyncReportHandler) RunSnapshot(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, name, err := h.runs.OpenSnapshot(sy, c.Param("runId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	response.AttachmentReader(c, filepath.Base(name), "text/csv", file)
}

func (h *SyncReportHandler) bucketRequest(c *gin.Context) (models.SchoolYear, models.Bucket, models.SyncReportFilter, bool) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return models.SchoolYear{}, "", models.SyncReportFilter{}, false
	}
	bucket, err := bucketParam(c)
	if err != nil {
		response.Error(c, err)
		return models.SchoolYear{}, "", models.SyncReportFilter{}, false
	}
	var query dto.BucketQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return models.SchoolYear{}, "", models.SyncReportFilter{}, false
	}
	filter := models.SyncReportFilter{
		Search:    query.Search,
		Checked:   query.Checked,
		Flagged:   query.Flagged,
		Page:      query.Page,
		PageSize:  query.Limit,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	return sy, bucket, filter, true
}
