package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vehicle-tracker/internal/domain/tracking"
	"vehicle-tracker/internal/repository"
	"vehicle-tracker/internal/service"
)

type Handler struct {
	trackingService *service.TrackingService
	alertService    *service.AlertService
	sweepService    *service.SweepService
	log             zerolog.Logger
}

func NewHandler(
	trackingService *service.TrackingService,
	alertService *service.AlertService,
	sweepService *service.SweepService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		trackingService: trackingService,
		alertService:    alertService,
		sweepService:    sweepService,
		log:             log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints (camera feeds)
	public := r.Group("/api/v1")
	{
		public.POST("/lpr/detections", h.createDetection)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/movements/manual", h.createManualMovement)
		protected.GET("/movements/recent", h.listRecentMovements)
		protected.GET("/vehicles/:id/movements", h.listVehicleMovements)

		protected.GET("/alerts", h.listAlerts)
		protected.GET("/alerts/counters", h.alertCounters)
		protected.GET("/alerts/:id", h.getAlert)
		protected.POST("/alerts/read-all", h.markAllAlertsRead)
		protected.POST("/alerts/:id/read", h.markAlertRead)
		protected.POST("/alerts/:id/resolve", h.resolveAlert)

		protected.POST("/sweeps/run", h.runSweep)
	}
}

func (h *Handler) createDetection(c *gin.Context) {
	var payload tracking.DetectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.trackingService.ProcessDetection(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "ok",
		"result": result,
	})
}

func (h *Handler) createManualMovement(c *gin.Context) {
	var input tracking.ManualMovement
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	movementID, err := h.trackingService.RecordManualMovement(c.Request.Context(), input, currentUser(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "ok",
		"movement_id": movementID,
	})
}

func (h *Handler) listVehicleMovements(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid vehicle id"))
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	movements, err := h.trackingService.FindVehicleMovements(c.Request.Context(), vehicleID, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(movements))
}

func (h *Handler) listRecentMovements(c *gin.Context) {
	var movementType *string
	if t := strings.TrimSpace(c.Query("type")); t != "" {
		movementType = &t
	}

	var zoneID *int64
	if z := c.Query("zone_id"); z != "" {
		parsed, err := strconv.ParseInt(z, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid zone_id"))
			return
		}
		zoneID = &parsed
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	movements, err := h.trackingService.FindRecentMovements(c.Request.Context(), movementType, zoneID, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(movements))
}

func (h *Handler) listAlerts(c *gin.Context) {
	var filter repository.AlertFilter

	if t := strings.TrimSpace(c.Query("type")); t != "" {
		filter.Type = &t
	}
	if p := strings.TrimSpace(c.Query("priority")); p != "" {
		filter.Priority = &p
	}
	if r := c.Query("read"); r != "" {
		parsed, err := strconv.ParseBool(r)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid read flag"))
			return
		}
		filter.Read = &parsed
	}
	if r := c.Query("resolved"); r != "" {
		parsed, err := strconv.ParseBool(r)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid resolved flag"))
			return
		}
		filter.Resolved = &parsed
	} else {
		// Open alerts by default
		unresolved := false
		filter.Resolved = &unresolved
	}
	if v := c.Query("vehicle_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid vehicle_id"))
			return
		}
		filter.VehicleID = &parsed
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	alerts, err := h.alertService.FindAlerts(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(alerts))
}

func (h *Handler) getAlert(c *gin.Context) {
	alertID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid alert id"))
		return
	}

	alert, err := h.alertService.Get(c.Request.Context(), alertID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(alert))
}

func (h *Handler) alertCounters(c *gin.Context) {
	counters, err := h.alertService.Counters(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(counters))
}

func (h *Handler) markAlertRead(c *gin.Context) {
	alertID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid alert id"))
		return
	}

	if err := h.alertService.MarkRead(c.Request.Context(), alertID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) resolveAlert(c *gin.Context) {
	alertID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid alert id"))
		return
	}

	// Body is optional; resolving without notes is fine.
	var body struct {
		Notes *string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := h.alertService.Resolve(c.Request.Context(), alertID, currentUser(c), body.Notes); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) markAllAlertsRead(c *gin.Context) {
	updated, err := h.alertService.MarkAllRead(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"updated": updated,
	})
}

func (h *Handler) runSweep(c *gin.Context) {
	result, err := h.sweepService.Run(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("on-demand sweep failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
