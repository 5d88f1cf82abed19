package probe

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"Error reading AP 1 IDR", KindAPRead},
		{"Transfer error while reading AHB-AP at 0xe000ed00", KindAHBTransfer},
		{"Memory transfer fault @ 0x00000000", KindMemoryFault},
		{"nRF52: bad CTRL-AP IDR value", KindBadCtrlAPIDR},
		{"Not supported by current CPU + target interface combination", KindUnsupported},
		{"libusb: device disconnected", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := KindFromMessage(tt.msg); got != tt.want {
				t.Errorf("KindFromMessage(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tagged := newError(KindResourceMissing, "find AHB-AP", nil)
	wrapped := fmt.Errorf("monitor: attempt 3: %w", tagged)

	if got := KindOf(wrapped); got != KindResourceMissing {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, KindResourceMissing)
	}
	if got := KindOf(errors.New("Memory transfer fault")); got != KindMemoryFault {
		t.Errorf("KindOf(untagged) = %s, want %s", got, KindMemoryFault)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %s, want %s", got, KindUnknown)
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("ACK FAULT")
	err := newError(KindAHBTransfer, "read CPUID", cause)

	if want := "probe: read CPUID: ahb-transfer: ACK FAULT"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if got := Kind(99).String(); got != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}

func TestLookupTarget(t *testing.T) {
	nrf, err := LookupTarget("nrf52810")
	if err != nil {
		t.Fatalf("LookupTarget: %v", err)
	}
	if !nrf.HasCtrlAP || nrf.CtrlAP != 1 || nrf.CtrlAPIDR != 0x02880000 {
		t.Errorf("unexpected nRF52 profile: %+v", nrf)
	}
	if _, err := LookupTarget("stm32"); err == nil {
		t.Error("expected error for unknown target")
	}
	names := TargetNames()
	if len(names) != 4 || names[0] != "cortex_m" {
		t.Errorf("TargetNames() = %v", names)
	}
}
