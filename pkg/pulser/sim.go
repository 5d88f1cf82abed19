package pulser

import (
	"fmt"
	"sync"
)

// Sim is an in-memory Generator. A latched fault clears after a given
// number of ClearFaults calls.
type Sim struct {
	// OnFire runs after every pulse with the 1-based pulse number.
	OnFire func(n int)

	mu          sync.Mutex
	armed       bool
	voltage     int
	pulses      int
	faulted     bool
	clearsLeft  int // -1 never clears
	checks      int
	clears      int
	voltages    []int
	resetsAhead int
}

// NewSim returns a disarmed simulator with no fault latched.
func NewSim() *Sim {
	return &Sim{}
}

// LatchFault latches a fault that needs clears calls to ClearFaults before
// it goes away. A negative count never clears.
func (s *Sim) LatchFault(clears int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faulted = true
	s.clearsLeft = clears
	if clears < 0 {
		s.clearsLeft = -1
	}
}

// RebootNext makes the next n commands fail with ErrDeviceReset.
func (s *Sim) RebootNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetsAhead = n
}

func (s *Sim) rebooting() bool {
	if s.resetsAhead > 0 {
		s.resetsAhead--
		return true
	}
	return false
}

func (s *Sim) SetVoltage(volts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebooting() {
		return ErrDeviceReset
	}
	s.voltage = volts
	return nil
}

func (s *Sim) Fire() error {
	s.mu.Lock()
	if s.rebooting() {
		s.mu.Unlock()
		return ErrDeviceReset
	}
	if !s.armed {
		s.mu.Unlock()
		return fmt.Errorf("pulser: fire while disarmed")
	}
	if s.faulted {
		s.mu.Unlock()
		return fmt.Errorf("pulser: fire while faulted")
	}
	s.pulses++
	n := s.pulses
	s.voltages = append(s.voltages, s.voltage)
	hook := s.OnFire
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *Sim) Faulted() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebooting() {
		return false, ErrDeviceReset
	}
	s.checks++
	return s.faulted, nil
}

func (s *Sim) ClearFaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebooting() {
		return ErrDeviceReset
	}
	s.clears++
	if !s.faulted || s.clearsLeft < 0 {
		return nil
	}
	s.clearsLeft--
	if s.clearsLeft <= 0 {
		s.faulted = false
	}
	return nil
}

func (s *Sim) Arm(armed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebooting() {
		return ErrDeviceReset
	}
	s.armed = armed
	return nil
}

// SimStats is a snapshot of what the simulator was asked to do.
type SimStats struct {
	Armed    bool
	Pulses   int
	Checks   int
	Clears   int
	Voltages []int
}

func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimStats{
		Armed:    s.armed,
		Pulses:   s.pulses,
		Checks:   s.checks,
		Clears:   s.clears,
		Voltages: append([]int(nil), s.voltages...),
	}
}
