package settings

import (
	"errors"
	"net/http"

	"opsdash/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Get godoc
// @Summary Current ingestion limits
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /admin/ingest/settings [get]
func (h *Handler) Get(c *gin.Context) {
	current, err := h.service.Current(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load settings")
		return
	}
	response.Success(c, http.StatusOK, current)
}

// Update godoc
// @Summary Change ingestion limits
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateRequest true "New limits"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /admin/ingest/settings [put]
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	updated, err := h.service.Update(c.Request.Context(), req, c.GetInt64("user_id"))
	if err != nil {
		var fieldErrs FieldErrors
		if errors.As(err, &fieldErrs) {
			response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid settings", map[string]any{
				"field_errors": fieldErrs,
			})
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save settings")
		return
	}
	response.Success(c, http.StatusOK, updated)
}
