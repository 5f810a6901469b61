package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/response"
)

type statusService interface {
	Options() []models.InternalStatus
	Check(internalRaw, registryRaw string) (*dto.StatusCheckResult, error)
	ChangeStatus(ctx context.Context, sy models.SchoolYear, entryKey string, req dto.ChangeStatusRequest) (*dto.StatusChangeResult, error)
	ResetStatus(ctx context.Context, sy models.SchoolYear, entryKey, actor string) (*dto.StatusChangeResult, error)
}

// StatusHandler exposes status compatibility checks and corrections.
type StatusHandler struct {
	service statusService
}

// NewStatusHandler builds a new handler.
func NewStatusHandler(service statusService) *StatusHandler {
	return &StatusHandler{service: service}
}

// Options godoc
// @Summary Internal statuses an operator may choose
// @Tags Status
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /status/options [get]
func (h *StatusHandler) Options(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Options(), nil)
}

// Compatibility godoc
// @Summary Check an internal/registry status pair
// @Tags Status
// @Produce json
// @Param internal query string true "Internal status"
// @Param registry query string true "Registry status"
// @Success 200 {object} response.Envelope
// @Router /status/compatibility [get]
func (h *StatusHandler) Compatibility(c *gin.Context) {
	result, err := h.service.Check(c.Query("internal"), c.Query("registry"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Change godoc
// @Summary Correct the internal status of a mismatched record
// @Tags Status
// @Accept json
// @Produce json
// @Param year path string true "School year (24_25)"
// @Param entryKey path string true "Status mismatch entry key"
// @Param payload body dto.ChangeStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year}/status-mismatches/{entryKey}/status [put]
func (h *StatusHandler) Change(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	result, err := h.service.ChangeStatus(c.Request.Context(), sy, c.Param("entryKey"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reset godoc
// @Summary Restore the status observed at classification time
// @Tags Status
// @Accept json
// @Produce json
// @Param year path string true "School year (24_25)"
// @Param entryKey path string true "Status mismatch entry key"
// @Param payload body dto.ResetStatusRequest false "Actor"
// @Success 200 {object} response.Envelope
// @Router /sync-report/{year}/status-mismatches/{entryKey}/status/reset [post]
func (h *StatusHandler) Reset(c *gin.Context) {
	sy, err := schoolYearParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ResetStatusRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reset payload"))
			return
		}
	}
	result, err := h.service.ResetStatus(c.Request.Context(), sy, c.Param("entryKey"), req.Actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
