package metrics

import (
	"context"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/tfsync/internal/tfvc"
)

const namespace = "tfsync"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	commandDuration *prom.HistogramVec
	commandResults  *prom.CounterVec
	runDuration     prom.Histogram
	runOutcome      *prom.CounterVec
	lastRun         prom.Gauge
}

// commandBuckets span a quick workfold call up to a multi-minute full get.
var commandBuckets = []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		commandDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of individual tf commands",
			Buckets:   commandBuckets,
		}, []string{"subcommand"}),
		commandResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "tf command results by subcommand and outcome",
		}, []string{"subcommand", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total sync run duration",
			Buckets:   commandBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Sync runs by final status and checkout decision",
		}, []string{"outcome", "decision"}),
		lastRun: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last sync run finished",
		}),
	}
	reg.MustRegister(pr.commandDuration, pr.commandResults, pr.runDuration, pr.runOutcome, pr.lastRun)
	return pr
}

// RecordCommand lets the recorder hang off the sync engine's command hook.
func (p *PrometheusRecorder) RecordCommand(_ context.Context, rec tfvc.CommandRecord) {
	p.ObserveCommand(rec.Subcommand(), rec.Duration, rec.Failed)
}

func (p *PrometheusRecorder) ObserveCommand(subcommand string, d time.Duration, failed bool) {
	if p == nil || p.commandDuration == nil {
		return
	}
	res := "success"
	if failed {
		res = "failed"
	}
	p.commandDuration.WithLabelValues(subcommand).Observe(d.Seconds())
	p.commandResults.WithLabelValues(subcommand, res).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome Outcome, decision string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	if decision == "" {
		decision = "none"
	}
	p.runOutcome.WithLabelValues(string(outcome), decision).Inc()
	p.lastRun.SetToCurrentTime()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}
