package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

// Enrollment states accepted for a provisioned course.
const (
	EnrollmentStateActive   = "Active"
	EnrollmentStateFuture   = "Future"
	EnrollmentStateArchived = "Archived"
)

// ProvisioningService creates internal students and enrollments for registry
// records that have no internal counterpart. It never links.
type ProvisioningService struct {
	store     store.Store
	courseMap *CourseCodeMap
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProvisioningService constructs ProvisioningService.
func NewProvisioningService(st store.Store, courseMap *CourseCodeMap, validate *validator.Validate, logger *zap.Logger) *ProvisioningService {
	if courseMap == nil {
		courseMap = DefaultCourseCodeMap()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisioningService{
		store:     st,
		courseMap: courseMap,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Lookup reports whether a student already exists under email, with their courses.
func (s *ProvisioningService) Lookup(ctx context.Context, email string) (*dto.ProvisioningLookup, error) {
	email = strings.TrimSpace(email)
	if err := s.validator.Var(email, "required,email"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a valid email is required")
	}
	key := models.StudentKey(email)
	result := &dto.ProvisioningLookup{Email: email, StudentKey: key, Courses: []models.StudentCourse{}}

	var profile models.StudentProfile
	found, err := s.store.Get(ctx, models.StudentProfilePath(key), &profile)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	if found {
		profile.StudentKey = key
		result.Exists = true
		result.Profile = &profile
	}

	var courses map[string]models.StudentCourse
	if _, err := s.store.Get(ctx, models.StudentCoursesPath(key), &courses); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student courses")
	}
	ids := make([]string, 0, len(courses))
	for id := range courses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	for _, id := range ids {
		course := courses[id]
		if course.CourseID == 0 {
			if n, err := strconv.Atoi(id); err == nil {
				course.CourseID = models.CourseID(n)
			}
		}
		result.Courses = append(result.Courses, course)
	}
	if len(result.Courses) > 0 {
		result.Exists = true
	}
	return result, nil
}

// Draft prefills a profile and enrollment from the registry record.
func (s *ProvisioningService) Draft(ctx context.Context, recordID string) (*dto.ProvisioningDraft, error) {
	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	first, last := ParseStudentName(record.StudentName)
	resolution := s.courseMap.Resolve(record.CourseCode)
	draft := &dto.ProvisioningDraft{
		RegistryRecordID: record.ID,
		ASN:              record.ASN,
		FirstName:        first,
		LastName:         last,
		CourseCode:       resolution.CourseCode,
		SchoolYear:       record.SchoolYear,
		Status:           string(models.InternalStatusActive),
		EnrollmentState:  EnrollmentStateActive,
		Candidates:       resolution.Courses,
		Confident:        resolution.Confident,
	}
	if draft.Candidates == nil {
		draft.Candidates = []models.CourseInfo{}
	}
	if status, err := models.ParseRegistryStatus(record.Status); err == nil && status == models.RegistryStatusCompleted {
		draft.Status = string(models.InternalStatusCompleted)
	}
	return draft, nil
}

// Save writes the profile and then the course enrollment with its summary projection.
// The two writes are independent; the profile is kept when the second fails.
func (s *ProvisioningService) Save(ctx context.Context, req dto.ProvisionRequest) (*dto.ProvisionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid provisioning payload")
	}
	status := models.InternalStatusActive
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := models.ParseInternalStatus(req.Status)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "status must be one of the internal statuses")
		}
		status = parsed
	}
	enrollment := req.EnrollmentState
	if enrollment == "" {
		enrollment = EnrollmentStateActive
	}

	record, err := s.loadRecord(ctx, req.RegistryRecordID)
	if err != nil {
		return nil, err
	}
	course, ok := s.courseMap.Course(req.CourseID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown course id "+strconv.Itoa(int(req.CourseID)))
	}
	if !containsCourse(s.courseMap.Resolve(record.CourseCode).CourseIDs, req.CourseID) {
		return nil, appErrors.Clone(appErrors.ErrAmbiguousCourseMapping, "course "+course.Title+" is not a candidate for course code "+models.NormalizeCourseCode(record.CourseCode))
	}
	if models.NormalizeASN(req.ASN) != models.NormalizeASN(record.ASN) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "asn does not match the registry record")
	}

	key := models.StudentKey(req.Email)
	summaryKey := models.SummaryKey(key, req.CourseID)
	now := s.now()

	var existing models.StudentProfile
	profileFound, err := s.store.Get(ctx, models.StudentProfilePath(key), &existing)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	if profileFound && existing.ASN != "" && models.NormalizeASN(existing.ASN) != models.NormalizeASN(req.ASN) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already exists with a different asn")
	}
	courseFound, err := s.store.Get(ctx, models.StudentCoursePath(key, req.CourseID), nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student course")
	}
	if courseFound {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in "+course.Title)
	}

	if !profileFound {
		profile := models.StudentProfile{
			Email:       strings.TrimSpace(req.Email),
			ASN:         req.ASN,
			FirstName:   strings.TrimSpace(req.FirstName),
			LastName:    strings.TrimSpace(req.LastName),
			StudentType: req.StudentType,
			LMSID:       req.LMSID,
			CreatedAt:   now,
		}
		if err := s.store.Set(ctx, models.StudentProfilePath(key), profile); err != nil {
			s.logger.Error("provisioning profile write failed", zap.String("studentKey", key), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to create student profile")
		}
	}

	schoolYear := record.SchoolYear
	if sy, err := models.ParseSchoolYear(strings.TrimSpace(record.SchoolYear)); err == nil {
		schoolYear = sy.Display()
	}
	pasi := "No"
	if req.RegistryLinked {
		pasi = "Yes"
	}
	studentCourse := models.StudentCourse{
		CourseID:        req.CourseID,
		Status:          models.ValueField{Value: string(status)},
		EnrollmentState: models.ValueField{Value: enrollment},
		PASI:            models.ValueField{Value: pasi},
		StudentType:     models.ValueField{Value: req.StudentType},
		SchoolYear:      models.ValueField{Value: schoolYear},
		LMSCourseID:     req.LMSID,
		Created:         now,
	}
	summary := models.StudentCourseSummary{
		StudentKey:  key,
		CourseID:    req.CourseID,
		ASN:         req.ASN,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Status:      string(status),
		StudentType: req.StudentType,
		SchoolYear:  schoolYear,
	}
	err = s.store.Update(ctx, map[string]interface{}{
		models.StudentCoursePath(key, req.CourseID): studentCourse,
		models.SummaryPath(summaryKey):              summary,
	})
	if err != nil {
		s.logger.Error("provisioning course write failed", zap.String("summaryKey", summaryKey), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to create student course")
	}

	s.logger.Info("student course provisioned",
		zap.String("studentKey", key),
		zap.String("summaryKey", summaryKey),
		zap.Bool("profileCreated", !profileFound),
	)
	return &dto.ProvisionResult{StudentKey: key, SummaryKey: summaryKey, CourseID: req.CourseID, ProfileCreated: !profileFound}, nil
}

func (s *ProvisioningService) loadRecord(ctx context.Context, id string) (*models.RegistryRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid registry record id")
	}
	var record models.RegistryRecord
	found, err := s.store.Get(ctx, models.RegistryRecordPath(id), &record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registry record")
	}
	if !found || record.Deleted {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "registry record not found")
	}
	record.ID = id
	return &record, nil
}

// ParseStudentName splits a registry "Last, First" name into title-cased parts.
// Names without a comma are read as "First Last".
func ParseStudentName(raw string) (first, last string) {
	caser := cases.Title(language.English)
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return "", ""
	}
	if idx := strings.Index(raw, ","); idx >= 0 {
		last = strings.TrimSpace(raw[:idx])
		first = strings.TrimSpace(raw[idx+1:])
	} else if idx := strings.LastIndex(raw, " "); idx >= 0 {
		first = raw[:idx]
		last = raw[idx+1:]
	} else {
		last = raw
	}
	return caser.String(first), caser.String(last)
}

func containsCourse(ids []models.CourseID, id models.CourseID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
