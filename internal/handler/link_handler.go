package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/response"
)

type linkService interface {
	Link(ctx context.Context, req dto.LinkRequest) (*dto.LinkResult, error)
}

// LinkHandler exposes the linking operation.
type LinkHandler struct {
	service linkService
}

// NewLinkHandler builds a new handler.
func NewLinkHandler(service linkService) *LinkHandler {
	return &LinkHandler{service: service}
}

// Create godoc
// @Summary Link a registry record to a student course
// @Description Creates the link, caches the registry fields on the summary, flags the record as linked and removes it from the error buckets in one write.
// @Tags Links
// @Accept json
// @Produce json
// @Param payload body dto.LinkRequest true "Link payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /links [post]
func (h *LinkHandler) Create(c *gin.Context) {
	var req dto.LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}
	result, err := h.service.Link(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
