package monitor

import "github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"

// Classify reduces the result of one open-and-reset attempt to a Status.
// The second result is false when nothing should be reported: a locked
// target is the steady state and shows up only as the absence of events.
//
// Order matters. A nil error is an unlock, a missing debug resource is a
// silent lock, access port read failures are reported, and the remaining
// known instabilities are silent. Anything unrecognised is an Error.
func Classify(err error) (Status, bool) {
	if err == nil {
		return Unlocked, true
	}
	switch probe.KindOf(err) {
	case probe.KindResourceMissing:
		return LockedTimeout, false
	case probe.KindAPRead:
		return APError, true
	case probe.KindAHBTransfer,
		probe.KindMemoryFault,
		probe.KindBadCtrlAPIDR,
		probe.KindUnsupported:
		return LockedTimeout, false
	default:
		return Error, true
	}
}
