// Package lifecycle generalizes spec.md §4.2.9's Ingestor-specific
// shutdown sequence (stop accepting, drain with timeout, cooperative
// cancel, final flush, close pool) into a named-stage helper reused by
// every cmd/ main, matching spec.md §5's "every process has the same
// cancellation/drain contract."
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// NotifyContext returns a context cancelled on SIGINT/SIGTERM, the same
// termination signal every one of the five processes drains on.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Stage is one named, independently time-bounded shutdown step.
type Stage struct {
	Name    string
	Timeout time.Duration // 0 = no deadline beyond the parent context's
	Run     func(ctx context.Context) error
}

// Shutdown runs each stage in order, logging its start and completion
// regardless of outcome, so an operator can see exactly how far a drain
// got before the hard-kill deadline in HardKillAfter fires. A failed
// stage does not stop the remaining stages from running: later stages
// (e.g. "close DB pool") must still execute per spec.md §4.2.9.
func Shutdown(ctx context.Context, log *zap.Logger, stages []Stage) {
	for _, s := range stages {
		stageCtx := ctx
		cancel := func() {}
		if s.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		}

		log.Info("shutdown stage starting", zap.String("stage", s.Name))
		err := s.Run(stageCtx)
		cancel()
		if err != nil {
			log.Error("shutdown stage failed", zap.String("stage", s.Name), zap.Error(err))
			continue
		}
		log.Info("shutdown stage complete", zap.String("stage", s.Name))
	}
}

// HardKillAfter arms a timer that force-exits the process if graceful
// shutdown has not completed within d (spec.md §5: "Hard kill at 30s").
// Callers must invoke the returned disarm func once shutdown completes
// normally.
func HardKillAfter(d time.Duration, log *zap.Logger) (disarm func()) {
	timer := time.AfterFunc(d, func() {
		log.Error("graceful shutdown exceeded deadline, forcing exit", zap.Duration("deadline", d))
		os.Exit(1)
	})
	return func() { timer.Stop() }
}
