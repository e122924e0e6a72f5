package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stealthdca/internal/models"
	"stealthdca/internal/repository"
	"stealthdca/internal/schedule"
)

type ScheduleHandler struct {
	Engine *schedule.Engine
	Logger *zap.Logger
}

func (h *ScheduleHandler) Register(r gin.IRouter) {
	group := r.Group("/api/v1/schedules")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("/:id/pause", h.pause)
	group.POST("/:id/resume", h.resume)
	group.DELETE("/:id", h.cancel)
	group.GET("/:id/executions", h.history)
	group.GET("/:id/next", h.next)
	group.POST("/:id/run", h.run)
}

type createScheduleRequest struct {
	FromAsset       string              `json:"from_asset" binding:"required"`
	ToAsset         string              `json:"to_asset" binding:"required"`
	Amount          decimal.Decimal     `json:"amount" swaggertype:"string"`
	Frequency       string              `json:"frequency" binding:"required"`
	SlippageBps     int                 `json:"slippage_bps"`
	Privacy         models.PrivacyFlags `json:"privacy"`
	Destination     string              `json:"destination"`
	TotalExecutions *int                `json:"total_executions"`
}

// @Summary Create schedule
// @Tags schedules
// @Accept json
// @Produce json
// @Param body body createScheduleRequest true "schedule"
// @Success 200 {object} models.Schedule
// @Failure 400 {object} apiResponse
// @Router /api/v1/schedules [post]
func (h *ScheduleHandler) create(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	freq, err := models.ParseFrequency(req.Frequency)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	s, err := models.NewSchedule(models.ScheduleParams{
		FromAsset:       req.FromAsset,
		ToAsset:         req.ToAsset,
		Amount:          req.Amount,
		Frequency:       freq,
		SlippageBps:     req.SlippageBps,
		Privacy:         req.Privacy,
		Destination:     req.Destination,
		TotalExecutions: req.TotalExecutions,
	}, time.Now())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	created, err := h.Engine.Create(c.Request.Context(), s, nil)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, schedule.ErrInvalidAsset) {
			status = http.StatusBadRequest
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, created, nil)
}

// @Summary List schedules
// @Tags schedules
// @Produce json
// @Param active query bool false "filter by active"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {array} models.Schedule
// @Router /api/v1/schedules [get]
func (h *ScheduleHandler) list(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	limit := repository.NormalizeLimit(intQuery(c, "limit", 100), 100)
	offset := repository.NormalizeOffset(intQuery(c, "offset", 0))
	items, err := h.Engine.List(c.Request.Context(), repository.ListSchedulesParams{
		Active: boolQueryPtr(c, "active"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, len(items)))
}

// @Summary Get schedule
// @Tags schedules
// @Produce json
// @Param id path string true "schedule id"
// @Success 200 {object} models.Schedule
// @Failure 404 {object} apiResponse
// @Router /api/v1/schedules/{id} [get]
func (h *ScheduleHandler) get(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	s, err := h.Engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	Ok(c, s, nil)
}

// @Summary Pause schedule
// @Tags schedules
// @Param id path string true "schedule id"
// @Success 200 {object} map[string]any
// @Router /api/v1/schedules/{id}/pause [post]
func (h *ScheduleHandler) pause(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	found, err := h.Engine.Pause(c.Request.Context(), id)
	h.transition(c, id, found, err)
}

// @Summary Resume schedule
// @Tags schedules
// @Param id path string true "schedule id"
// @Success 200 {object} map[string]any
// @Failure 409 {object} apiResponse
// @Router /api/v1/schedules/{id}/resume [post]
func (h *ScheduleHandler) resume(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	found, err := h.Engine.Resume(c.Request.Context(), id)
	h.transition(c, id, found, err)
}

// @Summary Cancel schedule
// @Tags schedules
// @Param id path string true "schedule id"
// @Success 200 {object} map[string]any
// @Router /api/v1/schedules/{id} [delete]
func (h *ScheduleHandler) cancel(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	found, err := h.Engine.Cancel(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !found {
		Error(c, http.StatusNotFound, schedule.ErrNotFound.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "cancelled": true}, nil)
}

// @Summary Execution history
// @Tags schedules
// @Param id path string true "schedule id"
// @Param limit query int false "limit"
// @Success 200 {array} models.Execution
// @Router /api/v1/schedules/{id}/executions [get]
func (h *ScheduleHandler) history(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	if _, err := h.Engine.Get(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	limit := repository.NormalizeLimit(intQuery(c, "limit", 50), 50)
	items, err := h.Engine.History(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, 0, len(items)))
}

// @Summary Next fire time
// @Tags schedules
// @Param id path string true "schedule id"
// @Success 200 {object} map[string]any
// @Router /api/v1/schedules/{id}/next [get]
func (h *ScheduleHandler) next(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	next, err := h.Engine.NextFireTime(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	Ok(c, map[string]any{"id": id, "next_fire_time": next}, nil)
}

// @Summary Fire schedule now
// @Tags schedules
// @Param id path string true "schedule id"
// @Success 200 {object} models.Execution
// @Failure 409 {object} apiResponse
// @Router /api/v1/schedules/{id}/run [post]
func (h *ScheduleHandler) run(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	if _, err := h.Engine.Get(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	exec, err := h.Engine.Fire(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if exec == nil {
		Error(c, http.StatusConflict, "schedule is not active", nil)
		return
	}
	Ok(c, exec, nil)
}

func (h *ScheduleHandler) id(c *gin.Context) (string, bool) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return "", false
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "id required", nil)
		return "", false
	}
	return id, true
}

func (h *ScheduleHandler) transition(c *gin.Context, id string, found bool, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	if !found {
		Error(c, http.StatusNotFound, schedule.ErrNotFound.Error(), nil)
		return
	}
	s, err := h.Engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	Ok(c, s, nil)
}

func (h *ScheduleHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, schedule.ErrCapReached):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, schedule.ErrNoHandler):
		Error(c, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		if h.Logger != nil {
			h.Logger.Warn("schedule request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
