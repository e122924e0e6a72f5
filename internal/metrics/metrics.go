package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stealthdca/internal/pipeline"
)

var (
	// pipelineRuns counts finished runs by outcome (success|failure) and failing stage.
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stealth_dca_pipeline_runs_total",
		Help: "Finished pipeline runs by outcome and failing stage",
	}, []string{"outcome", "stage"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stealth_dca_pipeline_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	stageEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stealth_dca_stage_events_total",
		Help: "Pipeline progress events by stage and status",
	}, []string{"stage", "status"})

	// simulatedStages counts stages that ran against a simulated provider.
	simulatedStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stealth_dca_simulated_stages_total",
		Help: "Privacy stages served by a simulated provider",
	}, []string{"stage"})

	scheduleFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stealth_dca_schedule_fires_total",
		Help: "Schedule timer fires by result",
	}, []string{"result"})
)

// Sink counts every progress event.
func Sink() pipeline.Sink {
	return pipeline.SinkFunc(func(e pipeline.Event) {
		stageEvents.WithLabelValues(string(e.Stage), string(e.Status)).Inc()
	})
}

func ObserveRun(res *pipeline.Result, err error, elapsed time.Duration) {
	pipelineDuration.Observe(elapsed.Seconds())
	stage := ""
	var se *pipeline.StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	pipelineRuns.WithLabelValues(outcome, stage).Inc()
	if res == nil {
		return
	}
	for _, rep := range res.Stages {
		if rep.Outcome == pipeline.OutcomeSimulated {
			simulatedStages.WithLabelValues(string(rep.Stage)).Inc()
		}
	}
}

// ScheduleFire records a timer fire: executed, failed, skipped_inactive or cap_reached.
func ScheduleFire(result string) {
	scheduleFires.WithLabelValues(result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
