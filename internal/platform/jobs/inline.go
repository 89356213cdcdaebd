package jobs

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// InlineQueue runs jobs on a goroutine in the current process.
type InlineQueue struct {
	registry *Registry
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewInlineQueue(registry *Registry, logger zerolog.Logger) *InlineQueue {
	return &InlineQueue{registry: registry, logger: logger.With().Str("queue", "inline").Logger()}
}

// Enqueue detaches from ctx cancellation so the job outlives the request
// that queued it.
func (q *InlineQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	j, err := NewJob(name, payload)
	if err != nil {
		return err
	}
	jobCtx := context.WithoutCancel(ctx)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.registry.Run(jobCtx, j); err != nil {
			q.logger.Error().Err(err).Str("job", j.Name).Str("job_id", j.ID).Msg("job failed")
			return
		}
		q.logger.Debug().Str("job", j.Name).Str("job_id", j.ID).Msg("job done")
	}()
	return nil
}

// Wait blocks until all enqueued jobs have finished.
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}
