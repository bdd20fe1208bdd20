package evaluator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const debounceWindow = 500 * time.Millisecond

// Runner drives the Engine on two triggers: a bus change-notification
// channel (debounced to collapse bursts) and a safety-net ticker
// (spec.md §4.3 "Trigger").
type Runner struct {
	Engine   *Engine
	Tenants  func(ctx context.Context) ([]string, error)
	Notify   <-chan string // tenant IDs signalled by bus change-notifications
	Fallback time.Duration
	Log      *zap.Logger
}

// Run blocks until ctx is cancelled, evaluating tenants on debounced
// notification wakeups and on the fallback interval.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Fallback)
	defer ticker.Stop()

	pending := make(map[string]struct{})
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case tenant, ok := <-r.Notify:
			if !ok {
				r.Notify = nil
				continue
			}
			pending[tenant] = struct{}{}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			}

		case <-debounceC:
			for tenant := range pending {
				r.evaluate(ctx, tenant)
			}
			pending = make(map[string]struct{})
			debounce = nil
			debounceC = nil

		case <-ticker.C:
			tenants, err := r.Tenants(ctx)
			if err != nil {
				r.Log.Error("failed to list tenants for fallback evaluation", zap.Error(err))
				continue
			}
			for _, tenant := range tenants {
				r.evaluate(ctx, tenant)
			}
		}
	}
}

func (r *Runner) evaluate(ctx context.Context, tenant string) {
	if _, err := r.Engine.EvaluateTenant(ctx, tenant); err != nil {
		r.Log.Error("tenant evaluation failed", zap.String("tenant", tenant), zap.Error(err))
	}
}
