// Package pulser drives electromagnetic pulse generators and keeps them out
// of latched fault states.
package pulser

import "errors"

var (
	// ErrFaultUnrecoverable means the generator stayed faulted through every
	// clear and re-arm cycle.
	ErrFaultUnrecoverable = errors.New("pulser: fault could not be cleared")

	// ErrDeviceReset means the generator rebooted while handling a command.
	// The command did not take effect.
	ErrDeviceReset = errors.New("pulser: device reset")
)

// Generator is a pulse generator. Fire blocks until the pulse has been
// delivered.
type Generator interface {
	SetVoltage(volts int) error
	Fire() error
	Faulted() (bool, error)
	ClearFaults() error
	Arm(armed bool) error
}
