package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

type statusServiceMock struct {
	checkInternal string
	checkRegistry string
	changeReq     dto.ChangeStatusRequest
	changeKey     string
	changeErr     error
	resetActor    string
	resetCalled   bool
}

func (m *statusServiceMock) Options() []models.InternalStatus {
	return models.InternalStatuses
}

func (m *statusServiceMock) Check(internalRaw, registryRaw string) (*dto.StatusCheckResult, error) {
	m.checkInternal = internalRaw
	m.checkRegistry = registryRaw
	return &dto.StatusCheckResult{Compatible: true}, nil
}

func (m *statusServiceMock) ChangeStatus(ctx context.Context, sy models.SchoolYear, entryKey string, req dto.ChangeStatusRequest) (*dto.StatusChangeResult, error) {
	m.changeKey = entryKey
	m.changeReq = req
	if m.changeErr != nil {
		return nil, m.changeErr
	}
	return &dto.StatusChangeResult{EntryKey: entryKey, Status: req.Status}, nil
}

func (m *statusServiceMock) ResetStatus(ctx context.Context, sy models.SchoolYear, entryKey, actor string) (*dto.StatusChangeResult, error) {
	m.resetCalled = true
	m.resetActor = actor
	return &dto.StatusChangeResult{EntryKey: entryKey}, nil
}

func TestStatusHandlerOptions(t *testing.T) {
	handler := NewStatusHandler(&statusServiceMock{})
	c, w := newReportContext(http.MethodGet, "/status/options", nil, nil)

	handler.Options(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Unenrolled")
}

func TestStatusHandlerCompatibility(t *testing.T) {
	svc := &statusServiceMock{}
	handler := NewStatusHandler(svc)
	c, w := newReportContext(http.MethodGet, "/status/compatibility?internal=Paused&registry=Active", nil, nil)

	handler.Compatibility(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Paused", svc.checkInternal)
	assert.Equal(t, "Active", svc.checkRegistry)
}

func TestStatusHandlerChange(t *testing.T) {
	svc := &statusServiceMock{}
	handler := NewStatusHandler(svc)
	c, w := newReportContext(http.MethodPut, "/x", []byte(`{"status":"Completed","reason":"registry shows completion"}`),
		yearParams(gin.Param{Key: "entryKey", Value: "123456789_MAT3791"}))

	handler.Change(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "123456789_MAT3791", svc.changeKey)
	assert.Equal(t, "Completed", svc.changeReq.Status)
	assert.False(t, svc.changeReq.Force)
}

func TestStatusHandlerChangeIncompatible(t *testing.T) {
	svc := &statusServiceMock{changeErr: appErrors.Clone(appErrors.ErrStatusIncompatible, "status Active is incompatible with registry status Completed")}
	handler := NewStatusHandler(svc)
	c, w := newReportContext(http.MethodPut, "/x", []byte(`{"status":"Active"}`), yearParams(gin.Param{Key: "entryKey", Value: "k"}))

	handler.Change(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStatusHandlerResetWithoutBody(t *testing.T) {
	svc := &statusServiceMock{}
	handler := NewStatusHandler(svc)
	c, w := newReportContext(http.MethodPost, "/x", nil, yearParams(gin.Param{Key: "entryKey", Value: "k"}))

	handler.Reset(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.resetCalled)
	assert.Empty(t, svc.resetActor)
}

func TestStatusHandlerResetWithActor(t *testing.T) {
	svc := &statusServiceMock{}
	handler := NewStatusHandler(svc)
	c, w := newReportContext(http.MethodPost, "/x", []byte(`{"actor":"registrar"}`), yearParams(gin.Param{Key: "entryKey", Value: "k"}))

	handler.Reset(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "registrar", svc.resetActor)
}
