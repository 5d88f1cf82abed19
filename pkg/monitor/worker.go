package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"
)

// DefaultBuffer is large enough that the scan drains far more often than
// the worker could fill it.
const DefaultBuffer = 1024

// Observer is told about every attempt, including silent ones.
type Observer func(status Status, emitted bool)

// Worker repeatedly opens a debug session, resets the target and publishes
// classified results. It is the only user of the prober.
type Worker struct {
	prober   probe.Prober
	target   probe.Target
	events   chan StatusEvent
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	attempts atomic.Uint64
}

// Option configures a Worker.
type Option func(*workerOptions)

type workerOptions struct {
	buffer   int
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(o *workerOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *workerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback run after each attempt.
func WithObserver(fn Observer) Option {
	return func(o *workerOptions) { o.observer = fn }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewWorker creates a worker for target. The event channel exists from
// construction so it can be handed to the scan before Run starts.
func NewWorker(prober probe.Prober, target probe.Target, opts ...Option) *Worker {
	o := workerOptions{
		buffer: DefaultBuffer,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker{
		prober:   prober,
		target:   target,
		events:   make(chan StatusEvent, o.buffer),
		logger:   o.logger,
		observer: o.observer,
		now:      o.now,
	}
}

// Events is the receive side of the single consumer channel.
func (w *Worker) Events() <-chan StatusEvent {
	return w.events
}

// Attempts returns the number of completed attempts.
func (w *Worker) Attempts() uint64 {
	return w.attempts.Load()
}

// Run attempts back to back until ctx is done. There is no delay between
// attempts; probe I/O bounds the rate. The channel is not closed on return
// because the consumer only ever drains it without blocking.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("debug monitor started", zap.String("target", w.target.Name))
	defer w.logger.Debug("debug monitor stopped", zap.Uint64("attempts", w.Attempts()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := w.attempt(ctx)
		if ctx.Err() != nil {
			// Failures caused by shutdown are not target behaviour.
			return ctx.Err()
		}
		w.attempts.Add(1)

		status, emit := Classify(err)
		if w.observer != nil {
			w.observer(status, emit)
		}
		if !emit {
			continue
		}

		ev := StatusEvent{Status: status, At: w.now()}
		if status != Unlocked {
			ev.Cause = err
		}
		if status == Error {
			w.logger.Warn("unclassified debug error", zap.Error(err))
		} else {
			w.logger.Debug("debug status", zap.Stringer("status", status), zap.Error(err))
		}

		select {
		case w.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt opens a session, resets the target and always closes what it
// opened before returning.
func (w *Worker) attempt(ctx context.Context) error {
	s, err := w.prober.Open(ctx, w.target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			w.logger.Debug("close debug session", zap.Error(cerr))
		}
	}()
	return s.ResetTarget(ctx)
}
