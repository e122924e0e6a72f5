package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stealthdca/internal/pipeline"
	"stealthdca/internal/provider"
)

// Swapper runs one-shot swaps for the loaded funder.
type Swapper interface {
	Swap(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error)
	Providers() []provider.Selection
}

type SwapHandler struct {
	Swapper Swapper
	Logger  *zap.Logger
	// OriginPatterns is passed to the websocket handshake. Empty allows same origin only.
	OriginPatterns []string
}

func (h *SwapHandler) Register(r gin.IRouter) {
	r.POST("/api/v1/swaps", h.swap)
	r.GET("/api/v1/swaps/stream", h.stream)
	r.GET("/api/v1/providers", h.providers)
}

type swapResponse struct {
	Result *pipeline.Result `json:"result"`
	Events []pipeline.Event `json:"events"`
}

// @Summary Run a swap
// @Description Runs the pipeline synchronously and returns the result with every progress event.
// @Tags swaps
// @Accept json
// @Produce json
// @Param body body pipeline.Request true "swap request"
// @Success 200 {object} swapResponse
// @Failure 400 {object} apiResponse
// @Failure 422 {object} apiResponse
// @Failure 502 {object} apiResponse
// @Router /api/v1/swaps [post]
func (h *SwapHandler) swap(c *gin.Context) {
	if h.Swapper == nil {
		Error(c, http.StatusInternalServerError, "swapper unavailable", nil)
		return
	}
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var events pipeline.Collector
	res, err := h.Swapper.Swap(c.Request.Context(), req, &events)
	if err != nil {
		Error(c, swapStatus(err), err.Error(), map[string]any{
			"stage":  failedStage(err),
			"result": res,
			"events": events.Events(),
		})
		return
	}
	Ok(c, swapResponse{Result: res, Events: events.Events()}, nil)
}

type streamMessage struct {
	Type   string           `json:"type"`
	Event  *pipeline.Event  `json:"event,omitempty"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Stage  string           `json:"stage,omitempty"`
}

// stream reads one swap request from the socket, then streams every event
// followed by a final "result" or "error" message.
func (h *SwapHandler) stream(c *gin.Context) {
	if h.Swapper == nil {
		Error(c, http.StatusInternalServerError, "swapper unavailable", nil)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.log().Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	ctx := c.Request.Context()

	var req pipeline.Request
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		_ = conn.Close(websocket.StatusUnsupportedData, "invalid swap request")
		return
	}

	sink := pipeline.SinkFunc(func(e pipeline.Event) {
		ev := e
		if err := wsjson.Write(ctx, conn, streamMessage{Type: "event", Event: &ev}); err != nil {
			h.log().Debug("websocket event write failed", zap.Error(err))
		}
	})
	// The run continues if the client goes away mid-swap.
	res, err := h.Swapper.Swap(context.WithoutCancel(ctx), req, sink)

	final := streamMessage{Type: "result", Result: res}
	if err != nil {
		final.Type = "error"
		final.Error = err.Error()
		final.Stage = failedStage(err)
	}
	if err := wsjson.Write(ctx, conn, final); err != nil {
		h.log().Debug("websocket result write failed", zap.Error(err))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// @Summary Provider selection
// @Description Which providers are live and which are simulated.
// @Tags swaps
// @Produce json
// @Success 200 {array} provider.Selection
// @Router /api/v1/providers [get]
func (h *SwapHandler) providers(c *gin.Context) {
	if h.Swapper == nil {
		Error(c, http.StatusInternalServerError, "swapper unavailable", nil)
		return
	}
	Ok(c, h.Swapper.Providers(), nil)
}

func (h *SwapHandler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func swapStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrScreeningRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrScreeningUnavailable), errors.Is(err, pipeline.ErrPrivacyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func failedStage(err error) string {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}
