package probe

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags the failure modes a debug attempt can run into. Drivers produce
// the tag at the point of failure so callers never have to parse messages.
type Kind uint8

const (
	// KindUnknown is any failure the driver could not attribute.
	KindUnknown Kind = iota
	// KindResourceMissing means the target answered but an expected debug
	// resource (usually the AHB-AP) could not be discovered.
	KindResourceMissing
	// KindAPRead is a failed read of an access port or debug port
	// identification register.
	KindAPRead
	// KindAHBTransfer is a faulted transfer through the AHB-AP.
	KindAHBTransfer
	// KindMemoryFault is a faulted memory access after the session was up.
	KindMemoryFault
	// KindBadCtrlAPIDR means the vendor control AP reported an unexpected IDR.
	KindBadCtrlAPIDR
	// KindUnsupported means the core or interface combination is not one the
	// driver can handle.
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindResourceMissing: "resource-missing",
	KindAPRead:          "ap-read",
	KindAHBTransfer:     "ahb-transfer",
	KindMemoryFault:     "memory-fault",
	KindBadCtrlAPIDR:    "bad-ctrl-ap-idr",
	KindUnsupported:     "unsupported",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Error is the tagged error returned by every Prober and Session.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("probe: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("probe: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the tag carried by err. Errors that do not carry a tag are
// matched against the messages debug tooling is known to print.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFromMessage(err.Error())
}

var messageKinds = []struct {
	fragment string
	kind     Kind
}{
	{"Error reading AP", KindAPRead},
	{"Transfer error while reading AHB-AP", KindAHBTransfer},
	{"Memory transfer fault", KindMemoryFault},
	{"bad CTRL-AP IDR", KindBadCtrlAPIDR},
	{"Not supported by current CPU + target interface combination", KindUnsupported},
}

// KindFromMessage maps text printed by external debug tooling to a Kind.
func KindFromMessage(msg string) Kind {
	for _, m := range messageKinds {
		if strings.Contains(msg, m.fragment) {
			return m.kind
		}
	}
	return KindUnknown
}
