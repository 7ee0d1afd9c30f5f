// Package metrics exports sync run and tool command measurements.
//
// Components receive a Recorder; NoopRecorder is the default when nothing is
// configured, so callers never nil-check.
package metrics

import (
	"context"
	"time"

	"github.com/mattjoyce/tfsync/internal/tfvc"
)

// Outcome labels the terminal state of a sync run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Recorder defines the observability hooks of a sync run.
type Recorder interface {
	tfvc.Recorder
	ObserveCommand(subcommand string, d time.Duration, failed bool)
	IncRunOutcome(outcome Outcome, decision string)
	ObserveRunDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) RecordCommand(context.Context, tfvc.CommandRecord) {}
func (NoopRecorder) ObserveCommand(string, time.Duration, bool)        {}
func (NoopRecorder) IncRunOutcome(Outcome, string)                     {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                  {}
