package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner ticks the Engine on an interval within spec.md §4.4's "Every
// 30–60 s" band.
type Runner struct {
	Engine   *Engine
	Interval time.Duration
	Log      *zap.Logger
}

func (r *Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 45 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Engine.Tick(ctx); err != nil {
				r.Log.Error("escalation tick failed", zap.Error(err))
			}
		}
	}
}
