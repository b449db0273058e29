// Package jobs runs background processing work detached from the request
// lifecycle while keeping the host able to drain in-flight jobs on
// shutdown. A job killed mid-commit could leave a staged file without a
// catalog entry, so shutdown waits instead of aborting.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/metrics"
)

// ErrDraining is returned by Launch once shutdown has begun.
var ErrDraining = errors.New("job launcher is draining")

// Job is a unit of background work. It owns all its inputs; Run takes
// nothing but a lifecycle context.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Launcher schedules jobs on their own goroutines and tracks them for
// orderly shutdown. It never retries: a failed job leaves its staged
// input in place, and the deterministic staging path makes reprocessing
// find the same bytes.
type Launcher struct {
	m *metrics.ServerMetrics

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup

	// base is the lifecycle context handed to jobs. It is independent of
	// any request context and is only cancelled by Stop.
	base   context.Context
	cancel context.CancelFunc
}

// NewLauncher creates a launcher. m may be nil to disable metrics.
func NewLauncher(m *metrics.ServerMetrics) *Launcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{m: m, base: ctx, cancel: cancel}
}

// Launch schedules the job on its own worker. The caller returns
// immediately; the HTTP response never waits for processing.
func (l *Launcher) Launch(name string, job Job) error {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return ErrDraining
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		if l.m != nil {
			l.m.JobsInFlight.Inc()
			defer l.m.JobsInFlight.Dec()
		}

		start := time.Now()
		err := job.Run(l.base)
		if err != nil {
			// Failure handling is job-specific; the staged file stays on
			// disk so the work is retryable from durable state.
			log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).
				Msg("background job failed")
			if l.m != nil {
				l.m.JobsTotal.WithLabelValues("failure").Inc()
			}
			return
		}

		log.Debug().Str("job", name).Dur("elapsed", time.Since(start)).
			Msg("background job finished")
		if l.m != nil {
			l.m.JobsTotal.WithLabelValues("success").Inc()
		}
	}()

	return nil
}

// Drain stops accepting new jobs and waits for in-flight jobs to finish,
// bounded by ctx. On ctx expiry the remaining jobs keep their staged
// files for reprocessing after restart.
func (l *Launcher) Drain(ctx context.Context) error {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the job lifecycle context. Only used after Drain times
// out and the process must exit anyway.
func (l *Launcher) Stop() {
	l.cancel()
}
