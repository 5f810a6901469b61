package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/response"
)

type provisioningService interface {
	Lookup(ctx context.Context, email string) (*dto.ProvisioningLookup, error)
	Draft(ctx context.Context, recordID string) (*dto.ProvisioningDraft, error)
	Save(ctx context.Context, req dto.ProvisionRequest) (*dto.ProvisionResult, error)
}

// ProvisioningHandler exposes the new student/course workflow.
type ProvisioningHandler struct {
	service provisioningService
}

// NewProvisioningHandler builds a new handler.
func NewProvisioningHandler(service provisioningService) *ProvisioningHandler {
	return &ProvisioningHandler{service: service}
}

// Lookup godoc
// @Summary Look up an existing student by email
// @Tags Provisioning
// @Produce json
// @Param email query string true "Student email"
// @Success 200 {object} response.Envelope
// @Router /provisioning/lookup [get]
func (h *ProvisioningHandler) Lookup(c *gin.Context) {
	result, err := h.service.Lookup(c.Request.Context(), c.Query("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Draft godoc
// @Summary Prefill a student and course from a registry record
// @Tags Provisioning
// @Produce json
// @Param recordId path string true "Registry record ID"
// @Success 200 {object} response.Envelope
// @Router /provisioning/drafts/{recordId} [get]
func (h *ProvisioningHandler) Draft(c *gin.Context) {
	draft, err := h.service.Draft(c.Request.Context(), c.Param("recordId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Save godoc
// @Summary Create the student profile and course enrollment
// @Tags Provisioning
// @Accept json
// @Produce json
// @Param payload body dto.ProvisionRequest true "Provisioning payload"
// @Success 201 {object} response.Envelope
// @Router /provisioning [post]
func (h *ProvisioningHandler) Save(c *gin.Context) {
	var req dto.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid provisioning payload"))
		return
	}
	result, err := h.service.Save(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
