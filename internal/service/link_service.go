package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

// Linker creates links between registry records and student course summaries.
// A link, the summary's cached copy, the record's linked flag and the report
// cleanup are one store write.
type Linker struct {
	store     store.Store
	courseMap *CourseCodeMap
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time

	// mu serialises the read-check-write sequence of link attempts in this process.
	mu sync.Mutex
}

// NewLinker constructs a Linker.
func NewLinker(st store.Store, courseMap *CourseCodeMap, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *Linker {
	if courseMap == nil {
		courseMap = DefaultCourseCodeMap()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{
		store:     st,
		courseMap: courseMap,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Link joins the requested record and summary. It fails without writing anything
// when the record is already linked or either side is missing.
func (l *Linker) Link(ctx context.Context, req dto.LinkRequest) (*dto.LinkResult, error) {
	if err := l.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.loadRecord(ctx, req.RegistryRecordID)
	if err != nil {
		return nil, err
	}
	summary, err := l.loadSummary(ctx, req.SummaryKey)
	if err != nil {
		return nil, err
	}
	if record.Linked {
		return nil, l.alreadyLinked(record, "registry record is already linked")
	}
	if err := l.checkExistingLinks(ctx, record); err != nil {
		return nil, err
	}
	if err := l.checkPair(record, summary); err != nil {
		return nil, err
	}

	sy, hasYear := l.schoolYear(record, req.SchoolYear, summary)
	result, err := l.commit(ctx, record, summary, sy, hasYear, true)
	if err != nil {
		l.metrics.RecordLink("manual", false)
		return nil, err
	}
	l.metrics.RecordLink("manual", true)
	return result, nil
}

// AutoLink links a record the classifier matched to exactly one summary. The
// caller has already checked the link index; only the record's flag is re-read.
func (l *Linker) AutoLink(ctx context.Context, sy models.SchoolYear, record models.RegistryRecord, summary models.StudentCourseSummary) (*dto.LinkResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.loadRecord(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if current.Linked {
		return nil, l.alreadyLinked(current, "registry record was linked concurrently")
	}
	result, err := l.commit(ctx, current, &summary, sy, true, false)
	if err != nil {
		l.metrics.RecordLink("auto", false)
		return nil, err
	}
	l.metrics.RecordLink("auto", true)
	return result, nil
}

func (l *Linker) commit(ctx context.Context, record *models.RegistryRecord, summary *models.StudentCourseSummary, sy models.SchoolYear, hasYear, cleanReport bool) (*dto.LinkResult, error) {
	now := l.now()
	linkID := uuid.NewString()
	code := models.NormalizeCourseCode(record.CourseCode)
	displayYear := record.SchoolYear
	if hasYear {
		displayYear = sy.Display()
	}

	link := models.PasiLink{
		PasiRecordID:            record.ID,
		StudentCourseSummaryKey: summary.Key,
		StudentKey:              summary.StudentKey,
		ASN:                     record.ASN,
		CourseCode:              code,
		LinkedAt:                now,
		SchoolYear:              displayYear,
	}
	cached := models.CachedPasiRecord{
		CourseDescription: record.CourseDescription,
		CreditsAttempted:  record.CreditsAttempted,
		Period:            record.Period,
		SchoolYear:        displayYear,
		PasiRecordID:      record.ID,
		LinkID:            linkID,
		LinkedAt:          now,
	}
	if cached.CourseDescription == "" {
		cached.CourseDescription = l.courseMap.Description(code)
	}

	recordPath := models.RegistryRecordPath(record.ID)
	updates := map[string]interface{}{
		models.LinkPath(linkID): link,
		models.SummaryPath(summary.Key) + "/pasiRecords/" + models.CourseCodeKey(code): cached,
		recordPath + "/linked":      true,
		recordPath + "/linkedAt":    now,
		recordPath + "/lastUpdated": now,
	}

	var removed []models.Bucket
	if hasYear && cleanReport {
		entryKey := models.EntryKey(record.ASN, record.CourseCode)
		targets := map[models.Bucket]string{
			models.BucketNeedsManualMapping:    entryKey,
			models.BucketNewLinkFailed:         entryKey,
			models.BucketExistingLinkFailed:    entryKey,
			models.BucketMissingRegistryRecord: summary.Key,
		}
		for _, bucket := range models.Buckets {
			key, ok := targets[bucket]
			if !ok {
				continue
			}
			path := models.EntryPath(sy, bucket, key)
			found, err := l.store.Get(ctx, path, nil)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read sync report")
			}
			if found {
				updates[path] = nil
				removed = append(removed, bucket)
			}
		}
	}

	if err := l.store.Update(ctx, updates); err != nil {
		l.metrics.RecordStoreWriteFailure("link")
		l.logger.Error("link write failed",
			zap.String("pasiRecordId", record.ID),
			zap.String("summaryKey", summary.Key),
			zap.Error(err),
		)
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to write link")
	}
	l.logger.Info("registry record linked",
		zap.String("linkId", linkID),
		zap.String("pasiRecordId", record.ID),
		zap.String("summaryKey", summary.Key),
		zap.Int("reportEntriesRemoved", len(removed)),
	)

	if removed == nil {
		removed = []models.Bucket{}
	}
	return &dto.LinkResult{
		LinkID:           linkID,
		RegistryRecordID: record.ID,
		SummaryKey:       summary.Key,
		SchoolYear:       displayYear,
		LinkedAt:         now,
		RemovedFrom:      removed,
	}, nil
}

func (l *Linker) loadRecord(ctx context.Context, id string) (*models.RegistryRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid registry record id")
	}
	var record models.RegistryRecord
	found, err := l.store.Get(ctx, models.RegistryRecordPath(id), &record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registry record")
	}
	if !found || record.Deleted {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "registry record not found")
	}
	record.ID = id
	return &record, nil
}

func (l *Linker) loadSummary(ctx context.Context, key string) (*models.StudentCourseSummary, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid student course summary key")
	}
	var summary models.StudentCourseSummary
	found, err := l.store.Get(ctx, models.SummaryPath(key), &summary)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student course summary")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "student course summary not found")
	}
	summary.Key = key
	if summary.StudentKey == "" {
		summary.StudentKey = studentKeyFromSummaryKey(key)
	}
	return &summary, nil
}

// checkExistingLinks rejects a record that already has a live link, either by id
// or by its (ASN, course code, school year) identity.
func (l *Linker) checkExistingLinks(ctx context.Context, record *models.RegistryRecord) error {
	var links map[string]models.PasiLink
	if _, err := l.store.Get(ctx, models.LinksRoot, &links); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load links")
	}
	asn := models.NormalizeASN(record.ASN)
	code := models.NormalizeCourseCode(record.CourseCode)
	for _, link := range links {
		if link.Deleted {
			continue
		}
		if link.PasiRecordID == record.ID {
			return l.alreadyLinked(record, "registry record already has a link")
		}
		if asn != "" && models.NormalizeASN(link.ASN) == asn && models.NormalizeCourseCode(link.CourseCode) == code && sameYear(link.SchoolYear, record.SchoolYear) {
			return l.alreadyLinked(record, "a registry record for this student and course code is already linked")
		}
	}
	return nil
}

func (l *Linker) checkPair(record *models.RegistryRecord, summary *models.StudentCourseSummary) error {
	recordASN := models.NormalizeASN(record.ASN)
	summaryASN := models.NormalizeASN(summary.ASN)
	if recordASN != "" && summaryASN != "" && recordASN != summaryASN {
		return appErrors.Clone(appErrors.ErrValidation, "registry record and student course belong to different students")
	}
	candidates := l.courseMap.Resolve(record.CourseCode).CourseIDs
	if len(candidates) == 0 {
		return nil
	}
	for _, id := range candidates {
		if id == summary.CourseID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrAmbiguousCourseMapping, "student course is not a candidate for course code "+models.NormalizeCourseCode(record.CourseCode))
}

func (l *Linker) schoolYear(record *models.RegistryRecord, fallback string, summary *models.StudentCourseSummary) (models.SchoolYear, bool) {
	for _, raw := range []string{record.SchoolYear, fallback, summary.SchoolYear} {
		if sy, err := models.ParseSchoolYear(strings.TrimSpace(raw)); err == nil {
			return sy, true
		}
	}
	return models.SchoolYear{}, false
}

func (l *Linker) alreadyLinked(record *models.RegistryRecord, message string) error {
	l.logger.Warn("link rejected", zap.String("pasiRecordId", record.ID), zap.String("reason", message))
	return appErrors.Clone(appErrors.ErrAlreadyLinked, message)
}

func sameYear(a, b string) bool {
	left, errA := models.ParseSchoolYear(strings.TrimSpace(a))
	right, errB := models.ParseSchoolYear(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return left == right
}
