package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/pkg/response"
)

type courseResolver interface {
	Resolve(code string) models.CourseResolution
	Description(code string) string
}

// CourseCodeHandler exposes the course code map.
type CourseCodeHandler struct {
	resolver courseResolver
}

// NewCourseCodeHandler builds a new handler.
func NewCourseCodeHandler(resolver courseResolver) *CourseCodeHandler {
	return &CourseCodeHandler{resolver: resolver}
}

// Resolve godoc
// @Summary Resolve a registry course code
// @Tags CourseCodes
// @Produce json
// @Param code path string true "Registry course code"
// @Success 200 {object} response.Envelope
// @Router /course-codes/{code} [get]
func (h *CourseCodeHandler) Resolve(c *gin.Context) {
	code := c.Param("code")
	resolution := h.resolver.Resolve(code)
	if resolution.CourseIDs == nil {
		resolution.CourseIDs = []models.CourseID{}
	}
	meta := map[string]interface{}{}
	if desc := h.resolver.Description(code); desc != "" {
		meta["description"] = desc
	}
	response.JSON(c, http.StatusOK, resolution, nil, meta)
}
