package paas

import (
	"context"

	"go.uber.org/zap"

	"stealthdca/internal/models"
)

// ExecutionObserver reports every schedule execution as dca_execution_ok or
// dca_execution_failed through the client carried by the fire context. Timer
// fires inherit it from the cron base context, API runs from
// InjectClientMiddleware.
func ExecutionObserver(logger *zap.Logger) func(context.Context, models.Schedule, models.Execution) {
	return func(ctx context.Context, s models.Schedule, exec models.Execution) {
		p := ClientFromContext(ctx)
		if p == nil {
			return
		}
		details := map[string]any{
			"schedule_id":  s.ID,
			"execution_id": exec.ID,
			"pair":         s.FromAsset + "/" + s.ToAsset,
			"amount":       s.Amount.String(),
			"executed":     s.ExecutedCount,
		}
		action, level := "dca_execution_ok", "info"
		if exec.Success {
			details["signature"] = exec.Signature
			if exec.OutputAmount != nil {
				details["output_amount"] = exec.OutputAmount.String()
			}
		} else {
			action, level = "dca_execution_failed", "warn"
			details["error"] = exec.Error
		}
		if err := p.Log(action, level, details); err != nil && logger != nil {
			logger.Debug("paas execution log failed", zap.Error(err))
		}
	}
}
