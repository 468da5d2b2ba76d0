package blocklist

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/validation"
)

// Handler provides HTTP endpoints for block enforcement and administration.
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new blocklist handler.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// RegisterRoutes sets up the public enforcement route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/enforcement/check", h.CheckAccess)
}

// RegisterAdminRoutes sets up admin-only block management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/blocks", h.ListBlocks)
	r.POST("/blocks", h.CreateBlock)
	r.GET("/blocks/:key", h.GetBlock)
	r.DELETE("/blocks/:key", h.DeleteBlock)
}

// CheckAccess handles POST /v1/enforcement/check
//
// Returns 200 for both allowed and blocked outcomes; blocking is a normal
// decision, not an HTTP error. 500 is reserved for hard store failures.
func (h *Handler) CheckAccess(c *gin.Context) {
	ip := ClientAddr(c)

	verdict, err := h.engine.Check(c.Request.Context(), ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Unable to evaluate access restrictions",
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// ListBlocks handles GET /v1/admin/blocks
func (h *Handler) ListBlocks(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks": records,
		"count":  len(records),
	})
}

// CreateBlock handles POST /v1/admin/blocks
func (h *Handler) CreateBlock(c *gin.Context) {
	var req CreateBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	if req.IP == "" && req.CountryCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Either ip or countryCode is required",
		})
		return
	}
	if req.IP != "" && !validation.IsValidIP(req.IP) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "ip must be a valid IPv4 or IPv6 address",
		})
		return
	}
	if req.CountryCode != "" && !validation.IsValidCountryCode(req.CountryCode) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "countryCode must be a two-letter ISO code",
		})
		return
	}
	if !req.IsPermanent && req.DurationHrs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Temporary blocks require a positive durationHours",
		})
		return
	}

	record := &BlockRecord{
		Reason:      validation.SanitizeString(req.Reason, validation.MaxReasonLength),
		IsPermanent: req.IsPermanent,
	}
	if req.IP != "" {
		record.SubjectKey = req.IP
		record.CountryCode = strings.ToUpper(req.CountryCode)
	} else {
		record.SubjectKey = CountryKey(req.CountryCode)
	}
	if !req.IsPermanent {
		expires := time.Now().Add(time.Duration(req.DurationHrs) * time.Hour)
		record.ExpiresAt = &expires
	}

	if err := h.store.Put(c.Request.Context(), record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"block": record})
}

// GetBlock handles GET /v1/admin/blocks/:key
func (h *Handler) GetBlock(c *gin.Context) {
	key := c.Param("key")

	record, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No block record for this subject",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"block": record})
}

// DeleteBlock handles DELETE /v1/admin/blocks/:key
func (h *Handler) DeleteBlock(c *gin.Context) {
	key := c.Param("key")

	if err := h.store.Delete(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

// ClientAddr extracts the originating client IP from forwarded headers.
// The left-most x-forwarded-for entry wins, then x-real-ip, then the
// literal "unknown".
func ClientAddr(c *gin.Context) string {
	if fwd := c.GetHeader("x-forwarded-for"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := c.GetHeader("x-real-ip"); real != "" {
		return real
	}
	return "unknown"
}
