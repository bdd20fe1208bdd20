package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bus"
)

// Runner drives the pull-consume loop (spec.md §4.2.2): configurable
// parallelism, at-most-one message processed concurrently per worker.
type Runner struct {
	consumer   bus.Consumer
	pipeline   *Pipeline
	workers    int
	fetchBatch int
	log        *zap.Logger
}

func NewRunner(consumer bus.Consumer, pipeline *Pipeline, workers, fetchBatch int, log *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if fetchBatch <= 0 {
		fetchBatch = 10
	}
	return &Runner{consumer: consumer, pipeline: pipeline, workers: workers, fetchBatch: fetchBatch, log: log}
}

// Run starts `workers` goroutines pulling and processing messages until
// ctx is cancelled. It blocks until every worker has returned.
func (r *Runner) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < r.workers; i++ {
		go func(id int) {
			r.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < r.workers; i++ {
		<-done
	}
}

func (r *Runner) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := r.consumer.Fetch(ctx, r.fetchBatch, 500*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("fetch failed", zap.Int("worker", workerID), zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			if msg.DeliveryCount > bus.MaxDeliveries {
				if _, err := r.consumer.DeadLetter(ctx, msg.ID); err != nil {
					r.log.Error("dead-letter failed", zap.String("id", msg.ID), zap.Error(err))
				}
				continue
			}

			result := r.pipeline.Process(ctx, msg)
			if result != resultAck {
				continue
			}
			if err := r.consumer.Ack(ctx, msg.ID); err != nil {
				r.log.Error("ack failed", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}
