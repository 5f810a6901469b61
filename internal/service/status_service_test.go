package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

const mismatchKey = "222222222_XYZ3"

func newStatusFixture(t *testing.T, internal, registry string) (*store.MemoryStore, *StatusService) {
	t.Helper()
	st := store.NewMemoryStore()
	seed(t, st, map[string]interface{}{
		models.SummaryPath("studentB_55"): courseSummary("studentB", 55, "222222222", internal),
		models.StudentCoursePath("studentB", 55): models.StudentCourse{
			CourseID: 55,
			Status:   models.ValueField{Value: internal},
		},
		models.EntryPath(testYear, models.BucketStatusMismatch, mismatchKey): models.SyncReportEntry{
			StudentName:    "Doe, Jane",
			ASN:            "222222222",
			CourseCode:     "XYZ3",
			SummaryKey:     "studentB_55",
			StudentKey:     "studentB",
			InternalStatus: internal,
			OriginalStatus: internal,
			RegistryStatus: registry,
			Reason:         models.ReasonStatusIncompatible,
			SchoolYear:     "24/25",
		},
	})
	return st, NewStatusService(st, nil, nil)
}

func TestStatusCompatible(t *testing.T) {
	tests := []struct {
		internal models.InternalStatus
		registry models.RegistryStatus
		want     bool
	}{
		{models.InternalStatusActive, models.RegistryStatusActive, true},
		{models.InternalStatusPaused, models.RegistryStatusActive, true},
		{models.InternalStatusStarting, models.RegistryStatusActive, true},
		{models.InternalStatusResuming, models.RegistryStatusActive, true},
		{models.InternalStatusCompleted, models.RegistryStatusCompleted, true},
		{models.InternalStatusWithdrawn, models.RegistryStatusWithdrawn, true},
		{models.InternalStatusWithdrawn, models.RegistryStatusIncomplete, true},
		{models.InternalStatusUnenrolled, models.RegistryStatusIncomplete, true},
		{models.InternalStatusCompleted, models.RegistryStatusActive, false},
		{models.InternalStatusActive, models.RegistryStatusCompleted, false},
		{models.InternalStatusUnenrolled, models.RegistryStatusCompleted, false},
		{models.InternalStatusPaused, models.RegistryStatusWithdrawn, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.internal)+"/"+string(tc.registry), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCompatible(tc.internal, tc.registry))
		})
	}
}

func TestStatusCheck(t *testing.T) {
	svc := NewStatusService(store.NewMemoryStore(), nil, nil)

	result, err := svc.Check("active", "Active")
	require.NoError(t, err)
	assert.True(t, result.Compatible)
	assert.Equal(t, models.InternalStatusActive, result.InternalStatus)

	result, err = svc.Check("Starting on 2024-09-01", "Completed")
	require.NoError(t, err)
	assert.Equal(t, models.InternalStatusStarting, result.InternalStatus)
	assert.False(t, result.Compatible)

	_, err = svc.Check("Graduated", "Active")
	requireAppError(t, err, appErrors.ErrValidation)
	_, err = svc.Check("Active", "Transferred")
	requireAppError(t, err, appErrors.ErrValidation)

	assert.Equal(t, models.InternalStatuses, svc.Options())
}

func TestChangeStatusWritesStatusAndAudit(t *testing.T) {
	st, svc := newStatusFixture(t, "Completed", "Active")
	ctx := context.Background()

	result, err := svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Active", Actor: "registrar"})
	require.NoError(t, err)
	assert.Equal(t, "Completed", result.PreviousStatus)
	assert.Equal(t, "Active", result.Status)
	assert.True(t, result.Compatible)
	assert.True(t, result.CanReset)

	var status string
	_, err = st.Get(ctx, models.StudentStatusPath("studentB", 55), &status)
	require.NoError(t, err)
	assert.Equal(t, "Active", status)

	var summary models.StudentCourseSummary
	_, err = st.Get(ctx, models.SummaryPath("studentB_55"), &summary)
	require.NoError(t, err)
	assert.Equal(t, "Active", summary.Status)

	var notes map[string]models.StatusAuditNote
	_, err = st.Get(ctx, models.StudentCoursePath("studentB", 55)+"/statusAudit", &notes)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	for _, note := range notes {
		assert.Equal(t, "Completed", note.PreviousStatus)
		assert.Equal(t, "Active", note.NewStatus)
		assert.Equal(t, "registrar", note.Actor)
		assert.Equal(t, mismatchKey, note.EntryKey)
		assert.NotEmpty(t, note.Reason)
	}

	var entry models.SyncReportEntry
	_, err = st.Get(ctx, models.EntryPath(testYear, models.BucketStatusMismatch, mismatchKey), &entry)
	require.NoError(t, err)
	assert.Equal(t, "Active", entry.CorrectedStatus)
	assert.Equal(t, "Completed", entry.OriginalStatus)
}

func TestChangeStatusDoesNotRecreateRemovedEntry(t *testing.T) {
	inner, _ := newStatusFixture(t, "Completed", "Active")
	path := models.EntryPath(testYear, models.BucketStatusMismatch, mismatchKey)
	svc := NewStatusService(newVanishingStore(inner, path), nil, nil)
	ctx := context.Background()

	_, err := svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Active", Actor: "registrar"})
	requireAppError(t, err, appErrors.ErrRecordNotFound)

	found, err := inner.Get(ctx, path, nil)
	require.NoError(t, err)
	assert.False(t, found)

	var status string
	_, err = inner.Get(ctx, models.StudentStatusPath("studentB", 55), &status)
	require.NoError(t, err)
	assert.Equal(t, "Completed", status)

	found, err = inner.Get(ctx, models.StudentCoursePath("studentB", 55)+"/statusAudit", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChangeStatusRejectsIncompatibleUnlessForced(t *testing.T) {
	st, svc := newStatusFixture(t, "Completed", "Active")
	ctx := context.Background()

	writes := 0
	st.SetWriteHook(func(string) error {
		writes++
		return nil
	})
	_, err := svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Withdrawn"})
	requireAppError(t, err, appErrors.ErrStatusIncompatible)
	assert.Zero(t, writes)

	result, err := svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Withdrawn", Force: true})
	require.NoError(t, err)
	assert.False(t, result.Compatible)
	assert.Equal(t, "Withdrawn", result.Status)
}

func TestChangeStatusRejectsBadInput(t *testing.T) {
	_, svc := newStatusFixture(t, "Completed", "Active")
	ctx := context.Background()

	_, err := svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{})
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Graduated"})
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = svc.ChangeStatus(ctx, testYear, "000000000_XYZ3", dto.ChangeStatusRequest{Status: "Active"})
	requireAppError(t, err, appErrors.ErrRecordNotFound)
}

func TestResetStatusRestoresClassifiedValue(t *testing.T) {
	st, svc := newStatusFixture(t, "Active", "Completed")
	ctx := context.Background()

	_, err := svc.ResetStatus(ctx, testYear, mismatchKey, "")
	requireAppError(t, err, appErrors.ErrPreconditionFailed)

	_, err = svc.ChangeStatus(ctx, testYear, mismatchKey, dto.ChangeStatusRequest{Status: "Completed"})
	require.NoError(t, err)

	result, err := svc.ResetStatus(ctx, testYear, mismatchKey, "registrar")
	require.NoError(t, err)
	assert.Equal(t, "Completed", result.PreviousStatus)
	assert.Equal(t, "Active", result.Status)
	assert.False(t, result.CanReset)
	assert.False(t, result.Compatible)

	var status string
	_, err = st.Get(ctx, models.StudentStatusPath("studentB", 55), &status)
	require.NoError(t, err)
	assert.Equal(t, "Active", status)

	var entry models.SyncReportEntry
	_, err = st.Get(ctx, models.EntryPath(testYear, models.BucketStatusMismatch, mismatchKey), &entry)
	require.NoError(t, err)
	assert.Empty(t, entry.CorrectedStatus)

	var notes map[string]models.StatusAuditNote
	_, err = st.Get(ctx, models.StudentCoursePath("studentB", 55)+"/statusAudit", &notes)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}
