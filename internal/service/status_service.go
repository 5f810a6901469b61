package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

// statusMatrix lists, per internal status, the registry statuses it may coexist with.
var statusMatrix = map[models.InternalStatus][]models.RegistryStatus{
	models.InternalStatusActive:     {models.RegistryStatusActive},
	models.InternalStatusPaused:     {models.RegistryStatusActive},
	models.InternalStatusStarting:   {models.RegistryStatusActive},
	models.InternalStatusResuming:   {models.RegistryStatusActive},
	models.InternalStatusCompleted:  {models.RegistryStatusCompleted},
	models.InternalStatusWithdrawn:  {models.RegistryStatusWithdrawn, models.RegistryStatusIncomplete},
	models.InternalStatusUnenrolled: {models.RegistryStatusWithdrawn, models.RegistryStatusIncomplete},
}

// StatusCompatible reports whether the pair is a valid joint state. Order matters:
// the internal value is the one subject to correction.
func StatusCompatible(internal models.InternalStatus, registry models.RegistryStatus) bool {
	for _, allowed := range statusMatrix[internal] {
		if allowed == registry {
			return true
		}
	}
	return false
}

// StatusService evaluates and corrects internal statuses of mismatched records.
type StatusService struct {
	store     store.Store
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStatusService constructs StatusService.
func NewStatusService(st store.Store, validate *validator.Validate, logger *zap.Logger) *StatusService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{store: st, validator: validate, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Options returns the statuses an operator may choose.
func (s *StatusService) Options() []models.InternalStatus {
	return append([]models.InternalStatus(nil), models.InternalStatuses...)
}

// Check evaluates a raw status pair, rejecting values outside the enumerations.
func (s *StatusService) Check(internalRaw, registryRaw string) (*dto.StatusCheckResult, error) {
	internal, err := models.ParseInternalStatus(internalRaw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unknown internal status")
	}
	registry, err := models.ParseRegistryStatus(registryRaw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unknown registry status")
	}
	return &dto.StatusCheckResult{InternalStatus: internal, RegistryStatus: registry, Compatible: StatusCompatible(internal, registry)}, nil
}

// ChangeStatus writes a new internal status for the status-mismatch entry entryKey.
func (s *StatusService) ChangeStatus(ctx context.Context, sy models.SchoolYear, entryKey string, req dto.ChangeStatusRequest) (*dto.StatusChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	status, err := models.ParseInternalStatus(req.Status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "status must be one of the internal statuses")
	}
	entry, summary, err := s.loadMismatch(ctx, sy, entryKey)
	if err != nil {
		return nil, err
	}
	if !req.Force {
		if registry, err := models.ParseRegistryStatus(entry.RegistryStatus); err == nil && !StatusCompatible(status, registry) {
			return nil, appErrors.Clone(appErrors.ErrStatusIncompatible, "status "+string(status)+" is incompatible with registry status "+string(registry))
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "status corrected from sync report"
	}
	if req.Force {
		reason += " (forced)"
	}
	return s.apply(ctx, sy, entry, summary, string(status), reason, req.Actor, string(status))
}

// ResetStatus re-applies the internal status observed when the entry was classified.
// It is only available while the current status differs from that value.
func (s *StatusService) ResetStatus(ctx context.Context, sy models.SchoolYear, entryKey, actor string) (*dto.StatusChangeResult, error) {
	entry, summary, err := s.loadMismatch(ctx, sy, entryKey)
	if err != nil {
		return nil, err
	}
	if entry.OriginalStatus == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "entry has no recorded original status")
	}
	if summary.Status == entry.OriginalStatus {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "status already matches the classified value")
	}
	return s.apply(ctx, sy, entry, summary, entry.OriginalStatus, "status reset to classified value", actor, "")
}

func (s *StatusService) apply(ctx context.Context, sy models.SchoolYear, entry *models.SyncReportEntry, summary *models.StudentCourseSummary, status, reason, actor, corrected string) (*dto.StatusChangeResult, error) {
	note := models.StatusAuditNote{
		PreviousStatus: summary.Status,
		NewStatus:      status,
		Reason:         reason,
		EntryKey:       entry.Key,
		Actor:          actor,
		CreatedAt:      s.now(),
	}
	var correctedValue interface{}
	if corrected != "" {
		correctedValue = corrected
	}
	entryPath := models.EntryPath(sy, models.BucketStatusMismatch, entry.Key)
	updates := map[string]interface{}{
		models.StudentStatusPath(summary.StudentKey, summary.CourseID):                 status,
		models.SummaryPath(summary.Key) + "/Status_Value":                              status,
		models.StatusAuditPath(summary.StudentKey, summary.CourseID, uuid.NewString()): note,
		entryPath + "/correctedStatus":                                                 correctedValue,
	}
	if err := s.store.UpdateIfExists(ctx, entryPath, updates); err != nil {
		if errors.Is(err, store.ErrGuardMissing) {
			return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "status mismatch entry not found")
		}
		s.logger.Error("status correction failed", zap.String("entry", entry.Key), zap.String("summary", summary.Key), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to update status")
	}
	s.logger.Info("internal status updated",
		zap.String("entry", entry.Key),
		zap.String("summary", summary.Key),
		zap.String("from", summary.Status),
		zap.String("to", status),
	)

	result := &dto.StatusChangeResult{
		EntryKey:       entry.Key,
		SummaryKey:     summary.Key,
		PreviousStatus: summary.Status,
		Status:         status,
		OriginalStatus: entry.OriginalStatus,
		RegistryStatus: entry.RegistryStatus,
		CanReset:       entry.OriginalStatus != "" && status != entry.OriginalStatus,
	}
	if internal, err := models.ParseInternalStatus(status); err == nil {
		if registry, err := models.ParseRegistryStatus(entry.RegistryStatus); err == nil {
			result.Compatible = StatusCompatible(internal, registry)
		}
	}
	return result, nil
}

func (s *StatusService) loadMismatch(ctx context.Context, sy models.SchoolYear, entryKey string) (*models.SyncReportEntry, *models.StudentCourseSummary, error) {
	var entry models.SyncReportEntry
	found, err := s.store.Get(ctx, models.EntryPath(sy, models.BucketStatusMismatch, entryKey), &entry)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status mismatch")
	}
	if !found {
		return nil, nil, appErrors.Clone(appErrors.ErrRecordNotFound, "status mismatch entry not found")
	}
	entry.Key = entryKey
	if entry.SummaryKey == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "status mismatch entry has no student course")
	}

	var summary models.StudentCourseSummary
	found, err = s.store.Get(ctx, models.SummaryPath(entry.SummaryKey), &summary)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student course summary")
	}
	if !found {
		return nil, nil, appErrors.Clone(appErrors.ErrRecordNotFound, "student course summary not found")
	}
	summary.Key = entry.SummaryKey
	if summary.StudentKey == "" {
		summary.StudentKey = studentKeyFromSummaryKey(entry.SummaryKey)
	}
	return &entry, &summary, nil
}
