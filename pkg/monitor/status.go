// Package monitor watches the debug port of a target under fault injection
// and reports whether it has come unlocked.
package monitor

import (
	"fmt"
	"time"
)

// Status is the debug state of the target as seen by the scan.
type Status uint8

const (
	// LockedTimeout means no event arrived before the scan moved on. The
	// worker never produces it; the absence of events is the locked signal.
	LockedTimeout Status = iota
	// Unlocked means a session opened and the target reset through it.
	Unlocked
	// APError means the access port misbehaved, usually because the glitch
	// destabilised it without unlocking anything.
	APError
	// Error is a failure the classifier does not recognise. It ends the scan.
	Error
)

var statusNames = [...]string{
	LockedTimeout: "LOCKED",
	Unlocked:      "UNLOCKED",
	APError:       "AP_ERROR",
	Error:         "ERROR",
}

// String returns the name written to the results file.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Rank orders statuses by how much they matter to an operator when several
// are observed for one pulse.
func (s Status) Rank() int {
	switch s {
	case Error:
		return 3
	case Unlocked:
		return 2
	case APError:
		return 1
	}
	return 0
}

// StatusEvent is one classified debug attempt. Events are values and are
// never modified after they are sent.
type StatusEvent struct {
	Status Status
	Cause  error // set for APError and Error
	At     time.Time
}
