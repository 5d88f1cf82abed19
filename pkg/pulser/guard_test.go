package pulser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep collects requested waits instead of sleeping.
func recordSleep(waits *[]time.Duration) GuardOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	})
}

func TestGuard_EnsureReady(t *testing.T) {
	tests := []struct {
		name       string
		clears     int // clear cycles the fault needs; 0 means no fault
		wantErr    error
		wantClears int
		wantChecks int
	}{
		{name: "no fault", clears: 0, wantClears: 0, wantChecks: 1},
		{name: "clears on first attempt", clears: 1, wantClears: 1, wantChecks: 2},
		{name: "clears on third attempt", clears: 3, wantClears: 3, wantChecks: 4},
		{name: "clears on fifth attempt", clears: 5, wantClears: 5, wantChecks: 6},
		{name: "needs six", clears: 6, wantErr: ErrFaultUnrecoverable, wantClears: 5, wantChecks: 6},
		{name: "never clears", clears: -1, wantErr: ErrFaultUnrecoverable, wantClears: 5, wantChecks: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSim()
			if tt.clears != 0 {
				sim.LatchFault(tt.clears)
			}
			var waits []time.Duration
			recoveries := 0
			g := NewGuard(sim, recordSleep(&waits), WithRecoveryHook(func() { recoveries++ }))

			err := g.EnsureReady(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.True(t, sim.Stats().Armed || tt.clears == 0)
			}

			stats := sim.Stats()
			assert.Equal(t, tt.wantClears, stats.Clears)
			assert.Equal(t, tt.wantChecks, stats.Checks)
			assert.Equal(t, tt.wantClears, recoveries)
			assert.Len(t, waits, tt.wantClears)
			for _, w := range waits {
				assert.Equal(t, DefaultFaultSettle, w)
			}
		})
	}
}

func TestGuard_RebootUsesAnAttempt(t *testing.T) {
	sim := NewSim()
	sim.RebootNext(1)

	var waits []time.Duration
	g := NewGuard(sim, recordSleep(&waits))
	require.NoError(t, g.EnsureReady(context.Background()))

	assert.Equal(t, []time.Duration{DefaultRebootDelay, DefaultFaultSettle}, waits)
	assert.Equal(t, 1, sim.Stats().Clears)
	assert.True(t, sim.Stats().Armed)
}

func TestGuard_CustomAttempts(t *testing.T) {
	sim := NewSim()
	sim.LatchFault(-1)

	g := NewGuard(sim, WithAttempts(2), WithSettle(0), WithSleep(func(context.Context, time.Duration) error { return nil }))
	assert.ErrorIs(t, g.EnsureReady(context.Background()), ErrFaultUnrecoverable)
	assert.Equal(t, 2, sim.Stats().Clears)
}

func TestGuard_CancelledWhileSettling(t *testing.T) {
	sim := NewSim()
	sim.LatchFault(-1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGuard(sim, WithSettle(time.Hour))
	assert.ErrorIs(t, g.EnsureReady(ctx), context.Canceled)
	assert.Equal(t, 1, sim.Stats().Clears)
}

type brokenGenerator struct{ Sim }

func (b *brokenGenerator) Faulted() (bool, error) {
	return false, errors.New("serial port gone")
}

func TestGuard_ReadErrorIsReturned(t *testing.T) {
	g := NewGuard(&brokenGenerator{})
	err := g.EnsureReady(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFaultUnrecoverable)
	assert.Contains(t, err.Error(), "serial port gone")
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
