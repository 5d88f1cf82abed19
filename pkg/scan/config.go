package scan

import (
	"errors"
	"fmt"
	"time"
)

// Defaults used when a field is left zero.
const (
	DefaultStep        = 0.1
	DefaultPulses      = 1
	DefaultVoltageMin  = 350
	DefaultVoltageMax  = 450
	DefaultPulsePeriod = 250 * time.Millisecond
)

// Config describes one scan.
type Config struct {
	XSize   int
	YSize   int
	XOffset int     // columns skipped on the first row
	Step    float64 // stage distance between neighbouring cells

	Pulses     int // per position
	VoltageMin int
	VoltageMax int

	// PulsePeriod is the settle time after every pulse.
	PulsePeriod time.Duration

	// StopOnUnlock ends the scan after the first Unlocked outcome.
	StopOnUnlock bool

	// Seed makes voltages reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultConfig returns a 1x1 scan with the stock pulse settings.
func DefaultConfig() Config {
	return Config{
		XSize:       1,
		YSize:       1,
		Step:        DefaultStep,
		Pulses:      DefaultPulses,
		VoltageMin:  DefaultVoltageMin,
		VoltageMax:  DefaultVoltageMax,
		PulsePeriod: DefaultPulsePeriod,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.XSize < 1 || c.YSize < 1 {
		errs = append(errs, fmt.Errorf("grid %dx%d must be at least 1x1", c.XSize, c.YSize))
	}
	if c.XOffset < 0 || (c.XSize >= 1 && c.XOffset >= c.XSize) {
		errs = append(errs, fmt.Errorf("x offset %d outside [0, %d)", c.XOffset, c.XSize))
	}
	if c.Step <= 0 {
		errs = append(errs, fmt.Errorf("step %v must be positive", c.Step))
	}
	if c.Pulses < 1 {
		errs = append(errs, fmt.Errorf("pulses %d must be at least 1", c.Pulses))
	}
	if c.VoltageMin <= 0 || c.VoltageMax < c.VoltageMin {
		errs = append(errs, fmt.Errorf("voltage range [%d, %d] is invalid", c.VoltageMin, c.VoltageMax))
	}
	if c.PulsePeriod < 0 {
		errs = append(errs, errors.New("pulse period must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("scan config: %w", errors.Join(errs...))
	}
	return nil
}
