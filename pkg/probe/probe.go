package probe

import (
	"context"
	"fmt"
	"sort"
)

// Prober opens debug sessions against a target through some physical or
// virtual debug probe.
type Prober interface {
	Open(ctx context.Context, target Target) (Session, error)
}

// Session is one open debug connection. Callers must Close a session before
// opening the next one.
type Session interface {
	ResetTarget(ctx context.Context) error
	Close() error
}

// Info describes a probe as reported by the probe itself.
type Info struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	Notes        string
}

// Target describes where the debug resources of a chip family live.
type Target struct {
	Name string

	// AHBAP is the index of the memory access port used for core access.
	AHBAP uint8

	// CtrlAP is the index of the vendor control access port. HasCtrlAP is
	// false for targets without one.
	CtrlAP    uint8
	HasCtrlAP bool
	CtrlAPIDR uint32
}

var targets = map[string]Target{
	"nrf52810": nrf52("nrf52810"),
	"nrf52832": nrf52("nrf52832"),
	"nrf52840": nrf52("nrf52840"),
	"cortex_m": {Name: "cortex_m", AHBAP: 0},
}

func nrf52(name string) Target {
	return Target{
		Name:      name,
		AHBAP:     0,
		CtrlAP:    1,
		HasCtrlAP: true,
		CtrlAPIDR: 0x02880000,
	}
}

// LookupTarget returns the profile registered under name.
func LookupTarget(name string) (Target, error) {
	t, ok := targets[name]
	if !ok {
		return Target{}, fmt.Errorf("probe: unknown target %q", name)
	}
	return t, nil
}

// TargetNames lists the registered target profiles.
func TargetNames() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
