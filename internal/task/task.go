// Package task runs supervised fire-and-forget background work.
//
// The server uses it for jobs that outlive the HTTP request that triggered
// them: running the transcription pipeline after an upload, or rebuilding a
// transcript's semantic index. Each task gets its own goroutine with panic
// recovery, structured logging, and failure metrics, and the runner can wait
// for all in-flight tasks during shutdown.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/echoscribe/internal/observe"
)

// Runner launches supervised background tasks. The zero value is not usable;
// create one with [NewRunner].
type Runner struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewRunner creates a Runner. metrics may be nil, in which case only logs are
// emitted.
func NewRunner(metrics *observe.Metrics) *Runner {
	return &Runner{metrics: metrics}
}

// Go runs fn in a new goroutine under a fresh background context carrying the
// trace context of ctx. Panics are recovered and reported as task failures.
// Returns false if the runner has been shut down.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		slog.Warn("task rejected, runner is shut down", "task", name)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	// Detach from the request's cancellation but keep its trace linkage.
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.observeFailure(taskCtx, name)
				slog.Error("background task panicked",
					"task", name,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()

		taskCtx, span := observe.StartSpan(taskCtx, "task."+name)
		defer span.End()

		start := time.Now()
		log := observe.Logger(taskCtx).With("task", name)
		log.Debug("background task started")

		if err := fn(taskCtx); err != nil {
			r.observeFailure(taskCtx, name)
			log.Error("background task failed", "error", err, "duration", time.Since(start))
			return
		}
		log.Debug("background task finished", "duration", time.Since(start))
	}()
	return true
}

func (r *Runner) observeFailure(ctx context.Context, name string) {
	if r.metrics == nil {
		return
	}
	r.metrics.BackgroundTaskFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", name),
	))
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to finish
// or ctx to expire, whichever comes first.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task: shutdown wait: %w", ctx.Err())
	}
}
