package signals

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/blocklist"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/validation"
)

// Handler provides HTTP endpoints for signal ingestion.
type Handler struct {
	service *Service
}

// NewHandler creates a new signals handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public ingestion route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/signals", h.Ingest)
}

// RegisterAdminRoutes sets up admin-only signal inspection routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/signals/devices/:hash", h.DeviceHistory)
}

// Ingest handles POST /v1/signals
//
// Malformed payloads get a 400, storage failures a 500. Every accepted
// payload returns success regardless of what correlation found, so a
// probing client learns nothing about detection internals beyond the
// advisory banEvasionDetected flag.
func (h *Handler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), &req, blocklist.ClientAddr(c))
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Unable to persist signal payload",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeviceHistory handles GET /v1/admin/signals/devices/:hash
func (h *Handler) DeviceHistory(c *gin.Context) {
	hash := c.Param("hash")
	if !validation.IsValidDeviceHash(hash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "hash must be a 64-character hex digest",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.service.DeviceHistory(c.Request.Context(), hash, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_hash": hash,
		"signals":     records,
		"count":       len(records),
	})
}
