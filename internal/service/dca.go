package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stealthdca/internal/metrics"
	"stealthdca/internal/models"
	"stealthdca/internal/paas"
	"stealthdca/internal/pipeline"
	"stealthdca/internal/provider"
	"stealthdca/internal/wallet"
)

var ErrNoFunder = errors.New("funder wallet not loaded")

// DCAService binds the pipeline to the funder wallet for both one-shot
// swaps and schedule fires.
type DCAService struct {
	Pipeline *pipeline.Pipeline
	Funder   *wallet.Identity
	// ScreeningAPIKey is used when a request carries none.
	ScreeningAPIKey string
	Logger          *zap.Logger
}

func (s *DCAService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Swap runs a one-shot pipeline and audits it as dca_swap_ok or
// dca_swap_failed through the platform client in ctx.
func (s *DCAService) Swap(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error) {
	res, err := s.execute(ctx, req, sink)
	if errors.Is(err, ErrNoFunder) {
		return res, err
	}
	details := map[string]any{
		"pair":   req.FromAsset + "/" + req.ToAsset,
		"amount": req.Amount.String(),
	}
	if err != nil {
		details["error"] = err.Error()
		var se *pipeline.StageError
		if errors.As(err, &se) {
			details["stage"] = string(se.Stage)
		}
		paas.LogBestEffortCtx(ctx, "dca_swap_failed", "warn", details)
		return res, err
	}
	details["signature"] = res.Signature
	details["output_amount"] = res.OutputAmount.String()
	paas.LogBestEffortCtx(ctx, "dca_swap_ok", "info", details)
	return res, nil
}

// execute runs one pipeline. Events go to sink, the log and the stage metrics.
func (s *DCAService) execute(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error) {
	if s.Pipeline == nil || s.Funder == nil {
		return nil, ErrNoFunder
	}
	if req.ScreeningAPIKey == "" {
		req.ScreeningAPIKey = s.ScreeningAPIKey
	}
	sinks := pipeline.MultiSink{pipeline.LogSink(s.logger()), metrics.Sink()}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	started := time.Now()
	res, err := s.Pipeline.Execute(ctx, s.Funder, req, sinks)
	metrics.ObserveRun(res, err, time.Since(started))

	log := s.logger().With(
		zap.String("pair", req.FromAsset+"/"+req.ToAsset),
		zap.String("amount", req.Amount.String()),
		zap.Duration("elapsed", time.Since(started)),
	)
	if err != nil {
		log.Warn("swap failed", zap.Error(err))
		return res, err
	}
	log.Info("swap done", zap.String("signature", res.Signature), zap.String("output", res.OutputAmount.String()))
	return res, nil
}

// FireSchedule is the schedule engine's fire handler. The engine observer
// audits its outcome.
func (s *DCAService) FireSchedule(ctx context.Context, sched models.Schedule) (*pipeline.Result, error) {
	return s.execute(ctx, pipeline.RequestFromSchedule(sched, s.ScreeningAPIKey), nil)
}

func (s *DCAService) Providers() []provider.Selection {
	if s.Pipeline == nil {
		return nil
	}
	return s.Pipeline.Providers.Describe()
}
