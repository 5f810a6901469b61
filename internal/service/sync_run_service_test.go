package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/jobs"
	"github.com/noah-isme/pasi-sync-api/pkg/storage"
)

type runFixture struct {
	store     *store.MemoryStore
	courseMap *CourseCodeMap
	linker    *Linker
	reports   *SyncReportService
	runner    *SyncRunner
}

func newRunFixture(t *testing.T, snapshots SnapshotStorage) *runFixture {
	t.Helper()
	st := store.NewMemoryStore()
	courseMap := testCourseMap(t)
	metrics := NewMetricsService()
	linker := NewLinker(st, courseMap, nil, metrics, zap.NewNop())
	reports := NewSyncReportService(st, nil, zap.NewNop())
	runner := NewSyncRunner(st, courseMap, linker, reports, snapshots, metrics, SyncRunOptions{}, zap.NewNop())
	return &runFixture{store: st, courseMap: courseMap, linker: linker, reports: reports, runner: runner}
}

// seedMixedYear stores one registry record per outcome plus an uncovered summary.
func (f *runFixture) seedMixedYear(t *testing.T) {
	t.Helper()
	linked := registryRecord("222222222", "XYZ3", "Active")
	linked.Linked = true
	previousYear := registryRecord("111111111", "XYZ3", "Active")
	previousYear.SchoolYear = "23/24"
	seed(t, f.store, map[string]interface{}{
		models.RegistryRecordPath("r1"):   registryRecord("111111111", "XYZ3", "Active"),
		models.RegistryRecordPath("r2"):   registryRecord("123456789", "XYZ3", "Active"),
		models.RegistryRecordPath("r3"):   registryRecord("123456789", "MAT1", "Active"),
		models.RegistryRecordPath("r4"):   registryRecord("123456789", "ZZZ9", "Active"),
		models.RegistryRecordPath("r5"):   linked,
		models.RegistryRecordPath("r6"):   previousYear,
		models.SummaryPath("studentA_55"): courseSummary("studentA", 55, "123456789", "Active"),
		models.SummaryPath("studentB_55"): courseSummary("studentB", 55, "222222222", "Completed"),
		models.SummaryPath("studentC_97"): courseSummary("studentC", 97, "333333333", "Active"),
		models.LinkPath("l5"): models.PasiLink{
			PasiRecordID:            "r5",
			StudentCourseSummaryKey: "studentB_55",
			StudentKey:              "studentB",
			ASN:                     "222222222",
			CourseCode:              "XYZ3",
			SchoolYear:              "24/25",
		},
	})
}

func (f *runFixture) report(t *testing.T) *models.SyncReport {
	t.Helper()
	report, err := f.reports.Report(context.Background(), testYear)
	require.NoError(t, err)
	return report
}

func TestSyncRunClassifiesEveryRecordOnce(t *testing.T) {
	f := newRunFixture(t, nil)
	f.seedMixedYear(t)
	ctx := context.Background()

	result, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 1, result.AutoLinked)
	assert.Equal(t, 1, result.LinkedCount)
	assert.Equal(t, map[string]int{
		"existing-link-failed":    0,
		"new-link-failed":         2,
		"needs-manual-mapping":    1,
		"status-mismatch":         1,
		"missing-registry-record": 1,
	}, result.Counts)

	report := f.report(t)
	require.NotNil(t, report.Meta)
	assert.Equal(t, result.RunID, report.Meta.RunID)
	assert.Equal(t, "24/25", report.Meta.SchoolYear)

	noASN := report.Buckets[models.BucketNewLinkFailed]["111111111_XYZ3"]
	assert.Equal(t, models.ReasonNoASNFound, noASN.Reason)
	assert.Equal(t, "r1", noASN.RegistryRecordID)
	assert.Equal(t, models.ReasonUnknownCourseCode, report.Buckets[models.BucketNewLinkFailed]["123456789_ZZZ9"].Reason)

	manual := report.Buckets[models.BucketNeedsManualMapping]["123456789_MAT1"]
	assert.Equal(t, models.ReasonAmbiguousCourseCode, manual.Reason)
	assert.Equal(t, []models.CourseID{2, 89}, manual.CandidateCourseIDs)
	assert.False(t, manual.FlaggedForReview)

	mismatch := report.Buckets[models.BucketStatusMismatch]["222222222_XYZ3"]
	assert.Equal(t, "studentB_55", mismatch.SummaryKey)
	assert.Equal(t, "Completed", mismatch.InternalStatus)
	assert.Equal(t, "Completed", mismatch.OriginalStatus)
	assert.Equal(t, "Active", mismatch.RegistryStatus)

	missing := report.Buckets[models.BucketMissingRegistryRecord]["studentC_97"]
	assert.Equal(t, models.ReasonNoRegistryRecordForYear, missing.Reason)
	assert.Equal(t, "Doe, Jane", missing.StudentName)

	owners := map[string]models.Bucket{}
	for _, bucket := range models.Buckets {
		for key := range report.Buckets[bucket] {
			prev, dup := owners[key]
			assert.False(t, dup, "key %s in %s and %s", key, prev, bucket)
			owners[key] = bucket
		}
	}

	var record models.RegistryRecord
	_, err = f.store.Get(ctx, models.RegistryRecordPath("r2"), &record)
	require.NoError(t, err)
	assert.True(t, record.Linked)

	var summary models.StudentCourseSummary
	_, err = f.store.Get(ctx, models.SummaryPath("studentA_55"), &summary)
	require.NoError(t, err)
	assert.Contains(t, summary.PasiRecords, "XYZ3")
}

func TestSyncRunIsIdempotent(t *testing.T) {
	f := newRunFixture(t, nil)
	f.seedMixedYear(t)
	ctx := context.Background()

	first, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	second, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)

	assert.Equal(t, first.Counts, second.Counts)
	assert.Zero(t, second.AutoLinked)
	assert.Equal(t, 1, second.LinkedCount)

	var links map[string]models.PasiLink
	_, err = f.store.Get(ctx, models.LinksRoot, &links)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestSyncRunKeepsCheckedOnlyWithinBucket(t *testing.T) {
	f := newRunFixture(t, nil)
	f.seedMixedYear(t)
	ctx := context.Background()

	_, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	_, err = f.reports.SetChecked(ctx, testYear, models.BucketNewLinkFailed, "111111111_XYZ3", true)
	require.NoError(t, err)
	_, err = f.reports.SetChecked(ctx, testYear, models.BucketNewLinkFailed, "123456789_ZZZ9", true)
	require.NoError(t, err)

	_, err = f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	report := f.report(t)
	assert.True(t, report.Buckets[models.BucketNewLinkFailed]["111111111_XYZ3"].Checked)
	assert.True(t, report.Buckets[models.BucketNewLinkFailed]["123456789_ZZZ9"].Checked)

	remapped, err := NewCourseCodeMap([]models.CourseCodeMapping{
		{CourseCode: "XYZ3", CourseIDs: []models.CourseID{55}},
		{CourseCode: "MAT1", CourseIDs: []models.CourseID{2, 89}},
		{CourseCode: "ZZZ9", CourseIDs: []models.CourseID{2, 89}},
	}, []models.CourseInfo{{ID: 2, Title: "Math 10C"}, {ID: 55, Title: "Test Course"}, {ID: 89, Title: "Math 10-3"}, {ID: 97, Title: "Physics 20"}})
	require.NoError(t, err)
	runner := NewSyncRunner(f.store, remapped, f.linker, f.reports, nil, nil, SyncRunOptions{}, nil)
	_, err = runner.Run(ctx, testYear)
	require.NoError(t, err)

	report = f.report(t)
	assert.NotContains(t, report.Buckets[models.BucketNewLinkFailed], "123456789_ZZZ9")
	moved, ok := report.Buckets[models.BucketNeedsManualMapping]["123456789_ZZZ9"]
	require.True(t, ok)
	assert.False(t, moved.Checked)
	assert.True(t, report.Buckets[models.BucketNewLinkFailed]["111111111_XYZ3"].Checked)
}

func TestSyncRunReportsBrokenLinks(t *testing.T) {
	f := newRunFixture(t, nil)
	flagged := registryRecord("444444444", "XYZ3", "Active")
	flagged.Linked = true
	seed(t, f.store, map[string]interface{}{
		models.RegistryRecordPath("r7"):   flagged,
		models.SummaryPath("studentD_55"): courseSummary("studentD", 55, "555555555", "Withdrawn"),
		models.LinkPath("orphan"): models.PasiLink{
			PasiRecordID:            "deleted-record",
			StudentCourseSummaryKey: "studentD_55",
			StudentKey:              "studentD",
			ASN:                     "555555555",
			CourseCode:              "XYZ3",
			SchoolYear:              "24/25",
		},
	})

	result, err := f.runner.Run(context.Background(), testYear)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Counts["existing-link-failed"])
	assert.Zero(t, result.Counts["missing-registry-record"])

	bucket := f.report(t).Buckets[models.BucketExistingLinkFailed]
	assert.Equal(t, models.ReasonLinkMissing, bucket["444444444_XYZ3"].Reason)
	orphan, ok := bucket["link_orphan"]
	require.True(t, ok)
	assert.Equal(t, models.ReasonLinkedRecordMissing, orphan.Reason)
	assert.Equal(t, "studentD_55", orphan.SummaryKey)
	assert.Equal(t, "orphan", orphan.LinkID)
}

func TestSyncRunWriteFailureKeepsPreviousReport(t *testing.T) {
	f := newRunFixture(t, nil)
	f.seedMixedYear(t)
	ctx := context.Background()

	first, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)

	f.store.SetWriteHook(func(path string) error {
		if path == models.ReportMetaPath(testYear) {
			return assert.AnError
		}
		return nil
	})
	_, err = f.runner.Run(ctx, testYear)
	requireAppError(t, err, appErrors.ErrStoreWriteFailed)
	f.store.SetWriteHook(nil)

	report := f.report(t)
	require.NotNil(t, report.Meta)
	assert.Equal(t, first.RunID, report.Meta.RunID)
}

// No ASN Found, then provisioning and a manual link clear the entry.
func TestProvisionThenLinkClearsFailure(t *testing.T) {
	f := newRunFixture(t, nil)
	ctx := context.Background()
	seed(t, f.store, map[string]interface{}{
		models.RegistryRecordPath("r1"): registryRecord("111111111", "XYZ3", "Active"),
	})

	_, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	entry, ok := f.report(t).Buckets[models.BucketNewLinkFailed]["111111111_XYZ3"]
	require.True(t, ok)
	assert.Equal(t, models.ReasonNoASNFound, entry.Reason)

	provisioning := NewProvisioningService(f.store, f.courseMap, nil, nil)
	draft, err := provisioning.Draft(ctx, "r1")
	require.NoError(t, err)
	created, err := provisioning.Save(ctx, dto.ProvisionRequest{
		RegistryRecordID: "r1",
		Email:            "jane.doe@example.com",
		ASN:              draft.ASN,
		FirstName:        draft.FirstName,
		LastName:         draft.LastName,
		CourseID:         draft.Candidates[0].ID,
		Status:           draft.Status,
		StudentType:      "Non-Primary",
	})
	require.NoError(t, err)

	linked, err := f.linker.Link(ctx, dto.LinkRequest{RegistryRecordID: "r1", SummaryKey: created.SummaryKey})
	require.NoError(t, err)
	assert.Equal(t, []models.Bucket{models.BucketNewLinkFailed}, linked.RemovedFrom)

	result, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LinkedCount)
	for name, count := range result.Counts {
		assert.Zero(t, count, name)
	}
}

// An ambiguous course code is resolved by the operator choosing the course.
func TestManualLinkResolvesAmbiguousCode(t *testing.T) {
	f := newRunFixture(t, nil)
	ctx := context.Background()
	seed(t, f.store, map[string]interface{}{
		models.RegistryRecordPath("r3"):  registryRecord("123456789", "MAT1", "Active"),
		models.SummaryPath("studentA_2"): courseSummary("studentA", 2, "123456789", "Active"),
	})

	_, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	entries, _, err := f.reports.ListBucket(ctx, testYear, models.BucketNeedsManualMapping, models.SyncReportFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "123456789_MAT1", entries[0].Key)

	linked, err := f.linker.Link(ctx, dto.LinkRequest{RegistryRecordID: "r3", SummaryKey: "studentA_2"})
	require.NoError(t, err)
	assert.Equal(t, []models.Bucket{models.BucketNeedsManualMapping}, linked.RemovedFrom)

	entries, _, err = f.reports.ListBucket(ctx, testYear, models.BucketNeedsManualMapping, models.SyncReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	result, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LinkedCount)
	assert.Zero(t, result.Counts["needs-manual-mapping"])
}

// A status mismatch disappears after the operator corrects the internal status.
func TestStatusCorrectionLinksOnRerun(t *testing.T) {
	f := newRunFixture(t, nil)
	f.seedMixedYear(t)
	ctx := context.Background()

	_, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)

	statuses := NewStatusService(f.store, nil, nil)
	_, err = statuses.ChangeStatus(ctx, testYear, "222222222_XYZ3", dto.ChangeStatusRequest{Status: "Active", Reason: "registry is correct"})
	require.NoError(t, err)

	result, err := f.runner.Run(ctx, testYear)
	require.NoError(t, err)
	assert.Zero(t, result.Counts["status-mismatch"])
	assert.Equal(t, 2, result.LinkedCount)

	var status string
	_, err = f.store.Get(ctx, models.StudentStatusPath("studentB", 55), &status)
	require.NoError(t, err)
	assert.Equal(t, "Active", status)
}

func TestSyncRunQueueAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapshots, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	f := newRunFixture(t, snapshots)
	f.seedMixedYear(t)

	_, err = f.runner.Enqueue(testYear)
	requireAppError(t, err, appErrors.ErrFeatureDisabled)

	queue := jobs.NewQueue("sync-runs", f.runner.HandleJob, jobs.QueueConfig{Workers: 1, BufferSize: 4, MaxRetries: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()
	f.runner.UseQueue(queue)

	queued, err := f.runner.Enqueue(testYear)
	require.NoError(t, err)
	assert.Equal(t, RunStateQueued, queued.State)

	var status *dto.RunStatus
	require.Eventually(t, func() bool {
		var ok bool
		status, ok = f.runner.Status(testYear)
		return ok && status.State == RunStateSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, status.Result)
	assert.Equal(t, queued.RunID, status.Result.RunID)
	assert.NotEmpty(t, status.Result.Snapshot)

	file, name, err := f.runner.OpenSnapshot(testYear, queued.RunID)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	assert.Contains(t, name, queued.RunID)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bucket")
	assert.Contains(t, string(data), "111111111_XYZ3")

	_, _, err = f.runner.OpenSnapshot(testYear, "../../etc/passwd")
	requireAppError(t, err, appErrors.ErrValidation)

	_, ok := f.runner.Status(models.MustSchoolYear("23_24"))
	assert.False(t, ok)
}
