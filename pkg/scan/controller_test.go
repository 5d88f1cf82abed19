package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/motion"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/pulser"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/results"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type rig struct {
	gen    *pulser.Sim
	stage  *motion.Recorder
	events chan monitor.StatusEvent
	sink   *results.Memory
}

func newRig(t *testing.T, cfg Config, opts ...Option) (*Controller, *rig) {
	t.Helper()
	r := &rig{
		gen:    pulser.NewSim(),
		stage:  &motion.Recorder{},
		events: make(chan monitor.StatusEvent, 16),
		sink:   &results.Memory{},
	}
	require.NoError(t, r.gen.Arm(true))
	guard := pulser.NewGuard(r.gen, pulser.WithSleep(noSleep))
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	c, err := NewController(cfg, r.gen, guard, r.stage, r.events, r.sink, opts...)
	require.NoError(t, err)
	return c, r
}

// publishOn makes the simulated generator behave like the monitor reported
// events right after pulse n.
func (r *rig) publishOn(n int, events ...monitor.StatusEvent) {
	r.gen.OnFire = func(fired int) {
		if fired == n {
			for _, ev := range events {
				r.events <- ev
			}
		}
	}
}

func statuses(outcomes []results.Outcome) []monitor.Status {
	out := make([]monitor.Status, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Status
	}
	return out
}

func config(x, y int) Config {
	cfg := DefaultConfig()
	cfg.XSize, cfg.YSize = x, y
	cfg.Seed = 42
	return cfg
}

func TestController_TwoByTwoAllLocked(t *testing.T) {
	c, r := newRig(t, config(2, 2))

	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	outcomes := r.sink.Outcomes()
	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.Equal(t, monitor.LockedTimeout, o.Status)
		assert.GreaterOrEqual(t, o.Voltage, DefaultVoltageMin)
		assert.LessOrEqual(t, o.Voltage, DefaultVoltageMax)
	}
	var labels []string
	for _, o := range outcomes {
		labels = append(labels, o.Position.Label())
	}
	assert.Equal(t, []string{"0", "1", "-0", "-1"}, labels)

	assert.Equal(t, []motion.Move{
		{Axis: motion.AxisX, Distance: 0.1},
		{Axis: motion.AxisY, Distance: 0.1},
		{Axis: motion.AxisX, Distance: -0.1},
		{Axis: motion.AxisX, Distance: 0},
		{Axis: motion.AxisY, Distance: -0.1},
	}, r.stage.Moves())
	x, y := r.stage.Net()
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	stats := r.gen.Stats()
	assert.False(t, stats.Armed, "disarmed at the end")
	assert.Equal(t, 4, stats.Pulses)
	assert.Equal(t, 4, summary.Pulses)
	assert.Equal(t, 4, summary.Positions)
	assert.Equal(t, 4, summary.Counts[monitor.LockedTimeout])
	assert.NotEmpty(t, summary.ID)
}

func TestController_EmptyChannelNeverBlocks(t *testing.T) {
	gen := pulser.NewSim()
	require.NoError(t, gen.Arm(true))
	sink := &results.Memory{}
	idle := make(chan monitor.StatusEvent) // nobody ever sends

	c, err := NewController(config(3, 1), gen, pulser.NewGuard(gen), &motion.Recorder{}, idle, sink, WithSleep(noSleep))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scan blocked on an empty channel")
	}
	assert.Equal(t, []monitor.Status{monitor.LockedTimeout, monitor.LockedTimeout, monitor.LockedTimeout}, statuses(sink.Outcomes()))
}

func TestController_UnlockedDoesNotAbort(t *testing.T) {
	c, r := newRig(t, config(2, 2))
	r.publishOn(2, monitor.StatusEvent{Status: monitor.Unlocked})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []monitor.Status{
		monitor.LockedTimeout, monitor.Unlocked, monitor.LockedTimeout, monitor.LockedTimeout,
	}, statuses(r.sink.Outcomes()))
	assert.Equal(t, 1, summary.Counts[monitor.Unlocked])
	assert.False(t, summary.StoppedEarly)
}

func TestController_APErrorIsRecorded(t *testing.T) {
	c, r := newRig(t, config(2, 1))
	r.publishOn(1, monitor.StatusEvent{Status: monitor.APError, Cause: errors.New("Error reading AP 0")})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []monitor.Status{monitor.APError, monitor.LockedTimeout}, statuses(r.sink.Outcomes()))
}

func TestController_CoalescesToMostSignificant(t *testing.T) {
	c, r := newRig(t, config(2, 1))
	r.publishOn(1,
		monitor.StatusEvent{Status: monitor.APError},
		monitor.StatusEvent{Status: monitor.Unlocked},
		monitor.StatusEvent{Status: monitor.APError},
	)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []monitor.Status{monitor.Unlocked, monitor.LockedTimeout}, statuses(r.sink.Outcomes()))
}

func TestController_DebugErrorAborts(t *testing.T) {
	cause := errors.New("libusb: device disconnected")
	c, r := newRig(t, config(2, 2))
	r.publishOn(2, monitor.StatusEvent{Status: monitor.Error, Cause: cause})

	summary, err := c.Run(context.Background())
	require.Error(t, err)

	var debugErr *DebugError
	require.ErrorAs(t, err, &debugErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "1", debugErr.Position.Label())

	assert.Len(t, r.sink.Outcomes(), 1)
	assert.Equal(t, 1, summary.Pulses)
	assert.True(t, r.gen.Stats().Armed, "abort leaves the generator alone")
	assert.Equal(t, []motion.Move{{Axis: motion.AxisX, Distance: 0.1}}, r.stage.Moves(), "no homing after abort")
}

func TestController_UnlockBeforeErrorIsRecorded(t *testing.T) {
	cause := errors.New("libusb: device disconnected")
	c, r := newRig(t, config(2, 2))
	r.publishOn(1,
		monitor.StatusEvent{Status: monitor.Unlocked},
		monitor.StatusEvent{Status: monitor.Error, Cause: cause},
	)

	summary, err := c.Run(context.Background())
	var debugErr *DebugError
	require.ErrorAs(t, err, &debugErr)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, []monitor.Status{monitor.Unlocked}, statuses(r.sink.Outcomes()))
	assert.Equal(t, 1, summary.Pulses)
	assert.Equal(t, 1, summary.Counts[monitor.Unlocked])
	assert.True(t, r.gen.Stats().Armed, "abort leaves the generator alone")
}

func TestController_EventsAfterErrorStayQueued(t *testing.T) {
	c, r := newRig(t, config(2, 1))
	r.publishOn(1,
		monitor.StatusEvent{Status: monitor.Error, Cause: errors.New("boom")},
		monitor.StatusEvent{Status: monitor.Unlocked},
	)

	_, err := c.Run(context.Background())
	var debugErr *DebugError
	require.ErrorAs(t, err, &debugErr)
	assert.Empty(t, r.sink.Outcomes())
	assert.Len(t, r.events, 1, "the drain stops at the fatal event")
}

func TestController_UnrecoverableFaultAborts(t *testing.T) {
	c, r := newRig(t, config(2, 2))
	r.gen.LatchFault(-1)

	summary, err := c.Run(context.Background())
	require.ErrorIs(t, err, pulser.ErrFaultUnrecoverable)
	assert.Zero(t, summary.Pulses)
	assert.Empty(t, r.sink.Outcomes())
	assert.Equal(t, 5, r.gen.Stats().Clears)
	assert.Empty(t, r.stage.Moves())
}

func TestController_StopOnUnlock(t *testing.T) {
	cfg := config(3, 2)
	cfg.StopOnUnlock = true
	c, r := newRig(t, cfg)
	r.publishOn(4, monitor.StatusEvent{Status: monitor.Unlocked})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.StoppedEarly)
	assert.Equal(t, 4, summary.Pulses)
	assert.Len(t, r.sink.Outcomes(), 4)
	assert.False(t, r.gen.Stats().Armed)

	x, y := r.stage.Net()
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)
}

func TestController_PulsesPerPosition(t *testing.T) {
	cfg := config(2, 1)
	cfg.Pulses = 3
	c, r := newRig(t, cfg)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Pulses)
	assert.Equal(t, 2, summary.Positions)
	assert.Len(t, r.sink.Outcomes(), 6)
}

func TestController_VoltageRange(t *testing.T) {
	cfg := config(3, 3)
	cfg.Pulses = 4
	cfg.VoltageMin, cfg.VoltageMax = 350, 352

	run := func() []int {
		c, r := newRig(t, cfg)
		_, err := c.Run(context.Background())
		require.NoError(t, err)
		return r.gen.Stats().Voltages
	}
	first := run()
	require.Len(t, first, 36)
	for _, v := range first {
		assert.True(t, v >= 350 && v <= 352, "voltage %d out of range", v)
	}
	assert.Equal(t, first, run(), "same seed, same voltages")

	cfg.VoltageMin, cfg.VoltageMax = 400, 400
	for _, v := range run() {
		assert.Equal(t, 400, v)
	}
}

func TestController_XOffset(t *testing.T) {
	cfg := config(4, 2)
	cfg.XOffset = 2
	c, r := newRig(t, cfg)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.sink.Outcomes(), 6)
	assert.Equal(t, "2", r.sink.Outcomes()[0].Position.Label())

	x, y := r.stage.Net()
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)
}

func TestController_MoveErrorAborts(t *testing.T) {
	c, r := newRig(t, config(2, 1))
	r.stage.Err = errors.New("moonraker returned 503")

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Len(t, r.sink.Outcomes(), 1)
}

func TestController_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config(2, 2)
	cfg.PulsePeriod = time.Hour
	c, r := newRig(t, cfg, WithSleep(pulser.Sleep))
	r.gen.OnFire = func(int) { cancel() }

	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, r.sink.Outcomes(), 1)
}

func TestController_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	gen := pulser.NewSim()
	require.NoError(t, gen.Arm(true))
	gen.LatchFault(2)
	events := make(chan monitor.StatusEvent, 4)
	gen.OnFire = func(n int) {
		if n == 3 {
			events <- monitor.StatusEvent{Status: monitor.Unlocked}
		}
	}
	guard := pulser.NewGuard(gen, pulser.WithSleep(noSleep), pulser.WithRecoveryHook(m.ObserveRecovery))

	c, err := NewController(config(2, 2), gen, guard, &motion.Recorder{}, events, &results.Memory{},
		WithSleep(noSleep), WithMetrics(m))
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.pulses.WithLabelValues("LOCKED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pulses.WithLabelValues("UNLOCKED")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.positions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recoveries))

	m.ObserveAttempt(monitor.LockedTimeout, false)
	m.ObserveAttempt(monitor.APError, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("silent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("AP_ERROR")))

	var nilMetrics *Metrics
	nilMetrics.ObserveRecovery()
	nilMetrics.ObserveAttempt(monitor.Error, true)
}

func TestNewController_InvalidConfig(t *testing.T) {
	gen := pulser.NewSim()
	_, err := NewController(Config{}, gen, pulser.NewGuard(gen), &motion.Recorder{}, nil, &results.Memory{})
	assert.Error(t, err)
}
