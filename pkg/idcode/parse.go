package idcode

import "fmt"

// ParseDPIDR splits a raw DPIDR into its fields
func ParseDPIDR(raw uint32) DPIDR {
	return DPIDR{
		Raw:      raw,
		Revision: uint8(raw >> 28),
		PartNo:   uint8(raw >> 20),
		MinDP:    raw&(1<<16) != 0,
		Version:  uint8((raw >> 12) & 0xF),
		Designer: uint16((raw >> 1) & 0x7FF),
		Valid:    raw&1 == 1,
	}
}

// ParseAPIDR splits a raw AP IDR into its fields. A zero IDR means no AP is
// implemented at that index.
func ParseAPIDR(raw uint32) APIDR {
	return APIDR{
		Raw:      raw,
		Revision: uint8(raw >> 28),
		Designer: uint16((raw >> 17) & 0x7FF),
		Class:    uint8((raw >> 13) & 0xF),
		Variant:  uint8((raw >> 4) & 0xF),
		Type:     uint8(raw & 0xF),
	}
}

// IsMemAP reports whether the AP is a memory access port
func (a APIDR) IsMemAP() bool {
	return a.Class == 0x8
}

func (d DPIDR) String() string {
	if !d.Valid {
		return fmt.Sprintf("0x%08X (invalid)", d.Raw)
	}
	m, _ := LookupDesigner(d.Designer)
	return fmt.Sprintf("0x%08X (DPv%d, designer %s, part 0x%02X, rev %d)",
		d.Raw, d.Version, m.Name, d.PartNo, d.Revision)
}
