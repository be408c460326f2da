// Package outbox runs best-effort side effects (attribution events,
// conversion log inserts, notification mail) off the webhook handler's
// critical path. The entitlement write stays synchronous and authoritative;
// jobs enqueued here may fail and only ever produce log lines.
package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// jobTimeout bounds each side effect so a hung downstream cannot pin a
// goroutine past shutdown.
const jobTimeout = 15 * time.Second

// Job is one named best-effort side effect.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outbox dispatches jobs on their own goroutines and drains them at
// shutdown. Failures are logged and never propagate to the enqueuer.
type Outbox struct {
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an Outbox.
func New(logger *zap.Logger) *Outbox {
	if logger == nil {
		panic("outbox requires a non-nil zap.Logger instance")
	}
	return &Outbox{logger: logger}
}

// Enqueue schedules a job. It returns immediately; the job runs on its own
// goroutine with a bounded context. Enqueue after Close drops the job with
// a warning instead of racing shutdown.
func (o *Outbox) Enqueue(job Job) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Warn("outbox closed, dropping job", zap.String("job", job.Name))
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("outbox job panicked",
					zap.String("job", job.Name),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if err := job.Run(ctx); err != nil {
			o.logger.Warn("outbox job failed",
				zap.String("job", job.Name),
				zap.Error(err))
			return
		}
		o.logger.Debug("outbox job completed", zap.String("job", job.Name))
	}()
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}
