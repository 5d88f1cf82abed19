package pulser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFaultAttempts = 5
	DefaultFaultSettle   = 500 * time.Millisecond
	DefaultRebootDelay   = 5 * time.Second
)

// Guard makes sure the generator is not latched in a fault before a pulse.
type Guard struct {
	gen         Generator
	attempts    int
	settle      time.Duration
	rebootDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	onRecover   func()
	logger      *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAttempts sets the maximum number of clear and re-arm cycles.
func WithAttempts(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithSettle sets the wait after each re-arm.
func WithSettle(d time.Duration) GuardOption {
	return func(g *Guard) { g.settle = d }
}

// WithRebootDelay sets how long to wait for a rebooted generator.
func WithRebootDelay(d time.Duration) GuardOption {
	return func(g *Guard) { g.rebootDelay = d }
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// WithRecoveryHook is called after every clear and re-arm cycle.
func WithRecoveryHook(fn func()) GuardOption {
	return func(g *Guard) { g.onRecover = fn }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard returns a guard with the default five attempts and half-second
// settle time.
func NewGuard(gen Generator, opts ...GuardOption) *Guard {
	g := &Guard{
		gen:         gen,
		attempts:    DefaultFaultAttempts,
		settle:      DefaultFaultSettle,
		rebootDelay: DefaultRebootDelay,
		sleep:       Sleep,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureReady returns nil as soon as the generator reports no fault. While
// it is faulted the guard clears the fault counter, re-arms, waits and
// checks again, at most attempts times, then gives up with
// ErrFaultUnrecoverable. A reboot of the generator uses up one attempt.
func (g *Guard) EnsureReady(ctx context.Context) error {
	faulted, err := g.check(ctx)
	if err != nil {
		return err
	}
	for attempt := 1; faulted; attempt++ {
		if attempt > g.attempts {
			g.logger.Error("pulse generator fault persists", zap.Int("attempts", g.attempts))
			return ErrFaultUnrecoverable
		}
		g.logger.Info("clearing pulse generator fault", zap.Int("attempt", attempt))

		if err := g.recover(ctx); err != nil {
			return err
		}
		if g.onRecover != nil {
			g.onRecover()
		}
		if faulted, err = g.check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// check reads the fault state. A rebooting generator counts as faulted once
// it has had time to come back.
func (g *Guard) check(ctx context.Context) (bool, error) {
	faulted, err := g.gen.Faulted()
	if errors.Is(err, ErrDeviceReset) {
		return true, g.waitReboot(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("pulser: read fault state: %w", err)
	}
	return faulted, nil
}

func (g *Guard) recover(ctx context.Context) error {
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"clear faults", g.gen.ClearFaults},
		{"arm", func() error { return g.gen.Arm(true) }},
	} {
		err := step.fn()
		if errors.Is(err, ErrDeviceReset) {
			return g.waitReboot(ctx)
		}
		if err != nil {
			return fmt.Errorf("pulser: %s: %w", step.name, err)
		}
	}
	return g.sleep(ctx, g.settle)
}

func (g *Guard) waitReboot(ctx context.Context) error {
	g.logger.Warn("pulse generator rebooted", zap.Duration("wait", g.rebootDelay))
	return g.sleep(ctx, g.rebootDelay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
