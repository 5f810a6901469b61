package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/export"
	"github.com/noah-isme/pasi-sync-api/pkg/jobs"
)

// SyncRunJobType identifies classification runs on the job queue.
const SyncRunJobType = "pasi-sync-run"

// Run states.
const (
	RunStateQueued    = "queued"
	RunStateRunning   = "running"
	RunStateSucceeded = "succeeded"
	RunStateFailed    = "failed"
)

// RunQueue accepts classification jobs.
type RunQueue interface {
	Enqueue(job jobs.Job) error
}

// SnapshotStorage keeps CSV snapshots of finished runs.
type SnapshotStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// SyncRunOptions tunes a SyncRunner.
type SyncRunOptions struct {
	TrackedStatuses   []string
	SnapshotRetention time.Duration
}

// SyncRunner performs the classification pass for a school year and rewrites its report.
type SyncRunner struct {
	store     store.Store
	courseMap *CourseCodeMap
	linker    *Linker
	reports   *SyncReportService
	snapshots SnapshotStorage
	csv       *export.CSVExporter
	metrics   *MetricsService
	logger    *zap.Logger
	tracked   map[models.InternalStatus]bool
	retention time.Duration
	now       func() time.Time

	queue RunQueue

	// runMu keeps a single writer per school year inside this process.
	runMu    sync.Mutex
	statusMu sync.RWMutex
	statuses map[string]*dto.RunStatus
}

// NewSyncRunner constructs a SyncRunner. snapshots and metrics may be nil.
func NewSyncRunner(st store.Store, courseMap *CourseCodeMap, linker *Linker, reports *SyncReportService, snapshots SnapshotStorage, metrics *MetricsService, opts SyncRunOptions, logger *zap.Logger) *SyncRunner {
	if courseMap == nil {
		courseMap = DefaultCourseCodeMap()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tracked := make(map[models.InternalStatus]bool)
	for _, raw := range opts.TrackedStatuses {
		status, err := models.ParseInternalStatus(raw)
		if err != nil {
			logger.Warn("ignoring unknown tracked status", zap.String("status", raw))
			continue
		}
		tracked[status] = true
	}
	if len(tracked) == 0 {
		tracked[models.InternalStatusActive] = true
		tracked[models.InternalStatusCompleted] = true
	}
	return &SyncRunner{
		store:     st,
		courseMap: courseMap,
		linker:    linker,
		reports:   reports,
		snapshots: snapshots,
		csv:       export.NewCSVExporter(),
		metrics:   metrics,
		logger:    logger,
		tracked:   tracked,
		retention: opts.SnapshotRetention,
		now:       func() time.Time { return time.Now().UTC() },
		statuses:  make(map[string]*dto.RunStatus),
	}
}

// UseQueue routes Enqueue through q.
func (r *SyncRunner) UseQueue(q RunQueue) {
	r.queue = q
}

// Enqueue schedules a run for sy on the job queue.
func (r *SyncRunner) Enqueue(sy models.SchoolYear) (*dto.RunStatus, error) {
	if r.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "sync run queue is not running")
	}
	status := &dto.RunStatus{RunID: uuid.NewString(), SchoolYear: sy.Display(), State: RunStateQueued, QueuedAt: r.now()}
	job := jobs.Job{ID: status.RunID, Key: sy.Path(), Type: SyncRunJobType, Payload: sy}
	if err := r.queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a sync run for "+sy.Display()+" is already pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue sync run")
	}
	r.setStatus(sy, status)
	return cloneRunStatus(status), nil
}

// HandleJob is the queue handler for SyncRunJobType jobs.
func (r *SyncRunner) HandleJob(ctx context.Context, job jobs.Job) error {
	sy, ok := job.Payload.(models.SchoolYear)
	if !ok || sy.IsZero() {
		return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
	}
	r.updateStatus(sy, job.ID, func(s *dto.RunStatus) { s.State = RunStateRunning; s.Error = "" })
	result, err := r.run(ctx, sy, job.ID)
	if err != nil {
		r.updateStatus(sy, job.ID, func(s *dto.RunStatus) { s.State = RunStateFailed; s.Error = err.Error() })
		return err
	}
	r.updateStatus(sy, job.ID, func(s *dto.RunStatus) { s.State = RunStateSucceeded; s.Result = result })
	return nil
}

// Status returns the latest run status for sy.
func (r *SyncRunner) Status(sy models.SchoolYear) (*dto.RunStatus, bool) {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	status, ok := r.statuses[sy.Path()]
	if !ok {
		return nil, false
	}
	return cloneRunStatus(status), true
}

// OpenSnapshot opens the CSV snapshot written by runID.
func (r *SyncRunner) OpenSnapshot(sy models.SchoolYear, runID string) (*os.File, string, error) {
	if r.snapshots == nil {
		return nil, "", appErrors.Clone(appErrors.ErrFeatureDisabled, "run snapshots are disabled")
	}
	if _, err := uuid.Parse(runID); err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "invalid run id")
	}
	name := snapshotName(sy, runID)
	file, err := r.snapshots.Open(name)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "snapshot not found")
	}
	return file, name, nil
}

// Run classifies every registry record of sy synchronously.
func (r *SyncRunner) Run(ctx context.Context, sy models.SchoolYear) (*dto.RunResult, error) {
	return r.run(ctx, sy, uuid.NewString())
}

type runInput struct {
	records   map[string]models.RegistryRecord
	summaries map[string]models.StudentCourseSummary
	links     map[string]models.PasiLink
	profiles  map[string]models.StudentProfile
	previous  *models.SyncReport
}

func (r *SyncRunner) run(ctx context.Context, sy models.SchoolYear, runID string) (result *dto.RunResult, err error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	started := r.now()
	defer func() {
		var counts map[string]int
		if result != nil {
			counts = result.Counts
		}
		r.metrics.RecordSyncRun(sy, counts, r.now().Sub(started), err)
	}()

	input, err := r.load(ctx, sy)
	if err != nil {
		return nil, err
	}
	idx := NewInternalIndex(r.courseMap, input.summaries, input.profiles, input.links)

	recordIDs := make([]string, 0, len(input.records))
	yearRecords := make([]models.RegistryRecord, 0, len(input.records))
	for id, record := range input.records {
		record.ID = id
		input.records[id] = record
		if record.Deleted || !sy.Matches(record.SchoolYear) {
			continue
		}
		recordIDs = append(recordIDs, id)
	}
	sort.Strings(recordIDs)

	result = &dto.RunResult{RunID: runID, SchoolYear: sy.Display(), StartedAt: started}
	classifications := make([]Classification, 0, len(recordIDs))
	for _, id := range recordIDs {
		record := input.records[id]
		yearRecords = append(yearRecords, record)
		c := Classify(record, idx)
		if c.Outcome == models.OutcomeAutoLink {
			c = r.autoLink(ctx, sy, c, idx)
			if c.Outcome == models.OutcomeLinked || c.Outcome == models.OutcomeStatusMismatch {
				result.AutoLinked++
			}
		}
		classifications = append(classifications, c)
	}
	result.Processed = len(classifications)
	classifications = append(classifications, ClassifyMissing(sy, yearRecords, idx, r.tracked)...)
	classifications = append(classifications, ClassifyOrphanedLinks(sy, input.records, idx)...)

	buckets, linked := r.assemble(sy, classifications, input.previous, started)
	result.LinkedCount = linked
	result.Counts = make(map[string]int, len(models.Buckets))
	for _, bucket := range models.Buckets {
		result.Counts[bucket.Name()] = len(buckets[bucket])
	}

	meta := models.SyncReportMeta{
		SchoolYear:  sy.Display(),
		LastRunAt:   started,
		RunID:       runID,
		Processed:   result.Processed,
		AutoLinked:  result.AutoLinked,
		Counts:      result.Counts,
		LinkedCount: linked,
	}
	updates := map[string]interface{}{models.ReportMetaPath(sy): meta}
	for _, bucket := range models.Buckets {
		updates[models.BucketPath(sy, bucket)] = buckets[bucket]
	}
	writeStart := time.Now()
	if err := r.store.Update(ctx, updates); err != nil {
		r.metrics.RecordStoreWriteFailure("sync-report")
		r.logger.Error("sync report write failed", zap.String("schoolYear", sy.Display()), zap.String("runId", runID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to write sync report")
	}
	r.metrics.ObserveStoreOperation("sync-report-write", time.Since(writeStart))

	result.Snapshot = r.saveSnapshot(sy, runID, buckets)
	result.FinishedAt = r.now()
	r.logger.Info("sync run completed",
		zap.String("schoolYear", sy.Display()),
		zap.String("runId", runID),
		zap.Int("processed", result.Processed),
		zap.Int("autoLinked", result.AutoLinked),
		zap.Any("counts", result.Counts),
	)
	return result, nil
}

func (r *SyncRunner) load(ctx context.Context, sy models.SchoolYear) (*runInput, error) {
	input := &runInput{}
	var students map[string]struct {
		Profile *models.StudentProfile `json:"profile"`
	}
	loadStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.store.Get(gctx, models.RegistryRecordsRoot, &input.records)
		return err
	})
	g.Go(func() error {
		_, err := r.store.Get(gctx, models.SummariesRoot, &input.summaries)
		return err
	})
	g.Go(func() error {
		_, err := r.store.Get(gctx, models.LinksRoot, &input.links)
		return err
	})
	g.Go(func() error {
		_, err := r.store.Get(gctx, models.StudentsRoot, &students)
		return err
	})
	g.Go(func() error {
		if r.reports == nil {
			return nil
		}
		previous, err := r.reports.Report(gctx, sy)
		input.previous = previous
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record store")
	}
	r.metrics.ObserveStoreOperation("sync-load", time.Since(loadStart))

	if input.records == nil {
		input.records = map[string]models.RegistryRecord{}
	}
	input.profiles = make(map[string]models.StudentProfile, len(students))
	for key, student := range students {
		if student.Profile != nil {
			input.profiles[key] = *student.Profile
		}
	}
	return input, nil
}

// autoLink resolves a transient auto-link classification into its final outcome.
func (r *SyncRunner) autoLink(ctx context.Context, sy models.SchoolYear, c Classification, idx *InternalIndex) Classification {
	failed := c.fail(models.OutcomeNewLinkFailed, models.ReasonErrorProcessingRecord)
	if r.linker == nil || c.Summary == nil {
		return failed
	}
	linkResult, err := r.linker.AutoLink(ctx, sy, c.Record, *c.Summary)
	if err != nil {
		r.logger.Warn("automatic link failed",
			zap.String("pasiRecordId", c.Record.ID),
			zap.String("summaryKey", c.Summary.Key),
			zap.Error(err),
		)
		return failed
	}
	link := models.PasiLink{
		ID:                      linkResult.LinkID,
		PasiRecordID:            c.Record.ID,
		StudentCourseSummaryKey: c.Summary.Key,
		StudentKey:              c.Summary.StudentKey,
		ASN:                     c.Record.ASN,
		CourseCode:              models.NormalizeCourseCode(c.Record.CourseCode),
		LinkedAt:                linkResult.LinkedAt,
		SchoolYear:              linkResult.SchoolYear,
	}
	idx.Links[link.ID] = link
	idx.LinksByRecord[link.PasiRecordID] = link

	record := c.Record
	record.Linked = true
	record.LinkedAt = &linkResult.LinkedAt
	return Classify(record, idx)
}

// assemble groups classifications into content-keyed buckets. A key lands in
// at most one bucket; operator checked flags survive when the key stays in the
// same bucket.
func (r *SyncRunner) assemble(sy models.SchoolYear, classifications []Classification, previous *models.SyncReport, now time.Time) (map[models.Bucket]map[string]models.SyncReportEntry, int) {
	buckets := make(map[models.Bucket]map[string]models.SyncReportEntry, len(models.Buckets))
	for _, bucket := range models.Buckets {
		buckets[bucket] = map[string]models.SyncReportEntry{}
	}
	owner := make(map[string]models.Bucket)
	linked := 0
	for _, c := range classifications {
		if c.Outcome == models.OutcomeLinked {
			linked++
			continue
		}
		bucket, entry, ok := c.Entry(sy, now)
		if !ok {
			continue
		}
		if prev, taken := owner[entry.Key]; taken {
			r.logger.Warn("duplicate report entry key",
				zap.String("key", entry.Key),
				zap.String("kept", prev.Name()),
				zap.String("dropped", bucket.Name()),
			)
			continue
		}
		if previous != nil {
			if old, ok := previous.Buckets[bucket][entry.Key]; ok && old.Checked {
				entry.Checked = true
			}
		}
		owner[entry.Key] = bucket
		buckets[bucket][entry.Key] = entry
	}
	return buckets, linked
}

func (r *SyncRunner) saveSnapshot(sy models.SchoolYear, runID string, buckets map[models.Bucket]map[string]models.SyncReportEntry) string {
	if r.snapshots == nil {
		return ""
	}
	ordered := make(map[models.Bucket][]models.SyncReportEntry, len(buckets))
	for bucket, entries := range buckets {
		list := make([]models.SyncReportEntry, 0, len(entries))
		for key, entry := range entries {
			entry.Key = key
			list = append(list, entry)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
		ordered[bucket] = list
	}
	data, err := r.csv.Render(entriesDataset(ordered, true))
	if err != nil {
		r.logger.Warn("render run snapshot failed", zap.String("runId", runID), zap.Error(err))
		return ""
	}
	name, err := r.snapshots.Save(snapshotName(sy, runID), data)
	if err != nil {
		r.logger.Warn("save run snapshot failed", zap.String("runId", runID), zap.Error(err))
		return ""
	}
	if r.retention > 0 {
		if removed, err := r.snapshots.CleanupOlderThan(r.retention); err != nil {
			r.logger.Warn("snapshot cleanup failed", zap.Error(err))
		} else if len(removed) > 0 {
			r.logger.Info("expired run snapshots removed", zap.Strings("files", removed))
		}
	}
	return name
}

func (r *SyncRunner) setStatus(sy models.SchoolYear, status *dto.RunStatus) {
	r.statusMu.Lock()
	r.statuses[sy.Path()] = status
	r.statusMu.Unlock()
}

func (r *SyncRunner) updateStatus(sy models.SchoolYear, runID string, fn func(*dto.RunStatus)) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	status, ok := r.statuses[sy.Path()]
	if !ok || status.RunID != runID {
		status = &dto.RunStatus{RunID: runID, SchoolYear: sy.Display(), QueuedAt: r.now()}
		r.statuses[sy.Path()] = status
	}
	fn(status)
}

func cloneRunStatus(s *dto.RunStatus) *dto.RunStatus {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func snapshotName(sy models.SchoolYear, runID string) string {
	return sy.Path() + "/" + strings.ToLower(runID) + ".csv"
}
