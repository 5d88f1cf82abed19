package idcode

import "fmt"

// designers covers the JEP106 codes that show up on SWD debug ports
var designers = map[uint16]Designer{
	0x020: {Code: 0x020, Name: "STMicroelectronics"},
	0x01F: {Code: 0x01F, Name: "Atmel"},
	0x015: {Code: 0x015, Name: "NXP (Philips)"},
	0x017: {Code: 0x017, Name: "Texas Instruments"},
	0x00E: {Code: 0x00E, Name: "Freescale"},
	0x049: {Code: 0x049, Name: "Infineon"},
	0x06E: {Code: 0x06E, Name: "Microchip"},
	0x093: {Code: 0x093, Name: "ARM"},
	0x0B7: {Code: 0x0B7, Name: "Espressif"},
	0x1F1: {Code: 0x1F1, Name: "Raspberry Pi"},
	0x23B: {Code: 0x23B, Name: "ARM Ltd"},
	0x244: {Code: 0x244, Name: "Nordic Semiconductor"},
	0x409: {Code: 0x409, Name: "GigaDevice"},
	0x51F: {Code: 0x51F, Name: "Silicon Labs"},
}

// LookupDesigner returns the JEP106 entry for code. Unknown codes get a
// placeholder name and false.
func LookupDesigner(code uint16) (Designer, bool) {
	d, ok := designers[code]
	if !ok {
		return Designer{Code: code, Name: fmt.Sprintf("Unknown (0x%03X)", code)}, false
	}
	return d, true
}
