package idcode

// DPIDR is a decoded ARM debug port identification register
type DPIDR struct {
	Raw      uint32
	Revision uint8  // [31:28]
	PartNo   uint8  // [27:20]
	MinDP    bool   // [16] minimal debug port, no pushed operations
	Version  uint8  // [15:12] DPv0, DPv1, DPv2
	Designer uint16 // [11:1] JEP106 continuation code and identity
	Valid    bool   // bit 0 reads as one
}

// APIDR is a decoded access port identification register
type APIDR struct {
	Raw      uint32
	Revision uint8  // [31:28]
	Designer uint16 // [27:17]
	Class    uint8  // [16:13], 0x8 for a MEM-AP
	Variant  uint8  // [7:4]
	Type     uint8  // [3:0], 0x1 AHB3, 0x4 APB2/3, 0x5 AHB5
}

// Designer is a JEP106 entry
type Designer struct {
	Code uint16 // bank << 7 | identity
	Name string
}
