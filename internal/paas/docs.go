package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r gin.IRoutes) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# stealth-dca

Recurring token purchases on Solana with optional privacy stages.

## Auth

All /api/* routes require a Bearer token (validated by the PaaS gateway).
Health endpoints and /metrics are public.

## Routes

- GET /healthz
- GET /readyz
- GET /metrics
- GET /swagger/index.html
- POST /api/v1/schedules
- GET /api/v1/schedules
- GET /api/v1/schedules/:id
- POST /api/v1/schedules/:id/pause
- POST /api/v1/schedules/:id/resume
- DELETE /api/v1/schedules/:id
- GET /api/v1/schedules/:id/executions
- GET /api/v1/schedules/:id/next
- POST /api/v1/schedules/:id/run
- POST /api/v1/swaps
- GET /api/v1/swaps/stream (websocket)
- GET /api/v1/providers

## Stage reports

Every run returns a per-stage report. A stage is executed, simulated,
skipped or failed. A simulated privacy stage did not protect anything.
`)
	})
}
