// Package scan walks the chip under the injector, fires pulses and records
// what the debug monitor saw after each one.
package scan

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/grid"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/motion"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/pulser"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/results"
)

// Readier is satisfied by *pulser.Guard.
type Readier interface {
	EnsureReady(ctx context.Context) error
}

// DebugError ends a scan when the monitor reports a failure it could not
// classify.
type DebugError struct {
	Position grid.Position
	Cause    error
}

func (e *DebugError) Error() string {
	return fmt.Sprintf("scan: unclassified debug error at %s: %v", e.Position, e.Cause)
}

func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Summary describes a finished or aborted scan.
type Summary struct {
	ID        string
	Positions int
	Pulses    int
	Counts    map[monitor.Status]int
	// StoppedEarly is set when StopOnUnlock ended the scan.
	StoppedEarly bool
}

// Controller owns the pulse generator and the stage for the duration of a
// scan. It only ever reads debug status from the event channel, and never
// waits on it.
type Controller struct {
	cfg    Config
	gen    pulser.Generator
	guard  Readier
	stage  motion.Stage
	events <-chan monitor.StatusEvent
	sink   results.Sink

	id      string
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records progress on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSleep replaces the settle sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithClock sets the outcome timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithID names the scan in logs and the summary.
func WithID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.id = id
		}
	}
}

// NewController validates cfg and wires the collaborators together. events
// is the receive side of the monitor channel.
func NewController(cfg Config, gen pulser.Generator, guard Readier, stage motion.Stage,
	events <-chan monitor.StatusEvent, sink results.Sink, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	c := &Controller{
		cfg:    cfg,
		gen:    gen,
		guard:  guard,
		stage:  stage,
		events: events,
		sink:   sink,
		id:     uuid.NewString(),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		sleep:  pulser.Sleep,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("scan", c.id))
	return c, nil
}

// Run performs the scan. It returns an error wrapping
// pulser.ErrFaultUnrecoverable when the generator cannot be recovered, a
// *DebugError when the monitor reports an unknown failure, or ctx.Err().
// Those paths stop issuing commands immediately: the generator stays armed
// and the stage is not homed.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	summary := Summary{ID: c.id, Counts: make(map[monitor.Status]int)}

	path, err := grid.Walk(c.cfg.XSize, c.cfg.YSize, c.cfg.XOffset)
	if err != nil {
		return summary, err
	}
	c.logger.Info("scan started",
		zap.Int("x", c.cfg.XSize), zap.Int("y", c.cfg.YSize), zap.Int("x_offset", c.cfg.XOffset),
		zap.Float64("step", c.cfg.Step), zap.Int("pulses", c.cfg.Pulses))

scan:
	for i, pos := range path {
		if i > 0 && pos.RowStart {
			if err := c.move(ctx, motion.AxisY, 1); err != nil {
				return summary, err
			}
		}
		if err := c.move(ctx, motion.AxisX, pos.StepX()); err != nil {
			return summary, err
		}
		summary.Positions++
		c.metrics.observePosition()
		c.logger.Debug("position", zap.Stringer("at", pos), zap.Int("column", pos.Column))

		for p := 0; p < c.cfg.Pulses; p++ {
			status, recorded, err := c.pulse(ctx, pos)
			if recorded {
				summary.Pulses++
				summary.Counts[status]++
			}
			if err != nil {
				return summary, err
			}

			if status == monitor.Unlocked && c.cfg.StopOnUnlock {
				summary.StoppedEarly = true
				c.logger.Info("target unlocked, stopping", zap.Stringer("at", pos))
				break scan
			}
		}
	}

	return summary, c.finish(ctx, path[:summary.Positions])
}

// pulse runs one guarded pulse and records its outcome. recorded reports
// whether a row was written, which can be the case even when err is a
// *DebugError: events drained ahead of the fatal one still describe this
// pulse.
func (c *Controller) pulse(ctx context.Context, pos grid.Position) (status monitor.Status, recorded bool, err error) {
	if err := c.guard.EnsureReady(ctx); err != nil {
		return 0, false, fmt.Errorf("scan: pulse generator not ready at %s: %w", pos, err)
	}

	volts := c.cfg.VoltageMin + c.rng.IntN(c.cfg.VoltageMax-c.cfg.VoltageMin+1)
	if err := c.gen.SetVoltage(volts); err != nil {
		return 0, false, fmt.Errorf("scan: set voltage %d: %w", volts, err)
	}
	if err := c.gen.Fire(); err != nil {
		return 0, false, fmt.Errorf("scan: fire at %s: %w", pos, err)
	}

	status, seen, fatal := c.drain(pos)
	if fatal != nil && seen == 0 {
		return 0, false, fatal
	}
	outcome := results.Outcome{Time: c.now(), Position: pos, Voltage: volts, Status: status}
	if err := c.sink.Record(outcome); err != nil {
		return 0, false, err
	}
	c.metrics.observePulse(status, volts)
	c.logger.Info("pulse",
		zap.String("x", pos.Label()), zap.Int("y", pos.Y),
		zap.Int("voltage", volts), zap.Stringer("status", status))
	if fatal != nil {
		return status, true, fatal
	}

	return status, true, c.sleep(ctx, c.cfg.PulsePeriod)
}

// drain takes every event already queued without waiting for more. An empty
// channel means the target stayed locked. When several events are queued
// the most significant one stands for this pulse. An Error event stops the
// drain; seen counts the events taken before it, whose coalesced status is
// still returned.
func (c *Controller) drain(pos grid.Position) (status monitor.Status, seen int, fatal *DebugError) {
	status = monitor.LockedTimeout
	for {
		select {
		case ev := <-c.events:
			if ev.Status == monitor.Error {
				c.logger.Error("unclassified debug error", zap.Stringer("at", pos), zap.Error(ev.Cause))
				return status, seen, &DebugError{Position: pos, Cause: ev.Cause}
			}
			seen++
			if ev.Status == monitor.APError {
				c.logger.Debug("access port error", zap.Error(ev.Cause))
			}
			if ev.Status.Rank() > status.Rank() {
				status = ev.Status
			}
		default:
			if seen > 1 {
				c.logger.Debug("coalesced debug events", zap.Int("events", seen), zap.Stringer("kept", status))
			}
			return status, seen, nil
		}
	}
}

func (c *Controller) move(ctx context.Context, axis motion.Axis, steps int) error {
	if steps == 0 {
		return nil
	}
	if err := c.stage.MoveRelative(ctx, axis, float64(steps)*c.cfg.Step); err != nil {
		return fmt.Errorf("scan: move %s: %w", axis, err)
	}
	return nil
}

// finish disarms the generator and returns the stage to where the scan
// started. Both homing moves are sent even when one of them is zero.
func (c *Controller) finish(ctx context.Context, visited []grid.Position) error {
	if err := c.gen.Arm(false); err != nil {
		return fmt.Errorf("scan: disarm: %w", err)
	}
	dx, dy := grid.Homing(visited)
	c.logger.Info("homing", zap.Int("x_steps", dx), zap.Int("y_steps", dy))
	if err := c.stage.MoveRelative(ctx, motion.AxisX, float64(dx)*c.cfg.Step); err != nil {
		return fmt.Errorf("scan: home X: %w", err)
	}
	if err := c.stage.MoveRelative(ctx, motion.AxisY, float64(dy)*c.cfg.Step); err != nil {
		return fmt.Errorf("scan: home Y: %w", err)
	}
	return nil
}
