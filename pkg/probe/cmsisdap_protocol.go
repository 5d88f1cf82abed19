package probe

import (
	"encoding/binary"
	"fmt"
)

// CMSIS-DAP Command IDs
const (
	CmdInfo              = 0x00
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
)

// DAP_Info Info IDs
const (
	InfoVendorID    = 0x01
	InfoProductID   = 0x02
	InfoSerialNum   = 0x03
	InfoFirmwareVer = 0x04
)

// Connection ports
const (
	PortSWD  = 1
	PortJTAG = 2
)

// Status codes
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// DAP_Transfer request bits
const (
	TransferAPnDP = 0x01 // Access port (1) or debug port (0)
	TransferRnW   = 0x02 // Read (1) or write (0)
	TransferA2    = 0x04
	TransferA3    = 0x08
)

// DAP_Transfer acknowledge values
const (
	AckOK       = 0x01
	AckWait     = 0x02
	AckFault    = 0x04
	AckNoAck    = 0x07
	AckMask     = 0x07
	AckSWDError = 0x08 // SWD protocol error (parity)
	AckMismatch = 0x10 // Value mismatch on match read
)

// CMSISDAPProtocol handles encoding/decoding of CMSIS-DAP commands
type CMSISDAPProtocol struct {
	PacketSize int
}

// NewCMSISDAPProtocol creates a new protocol handler
func NewCMSISDAPProtocol(packetSize int) *CMSISDAPProtocol {
	return &CMSISDAPProtocol{
		PacketSize: packetSize,
	}
}

// EncodeInfo builds a DAP_Info command
func (p *CMSISDAPProtocol) EncodeInfo(infoID byte) []byte {
	return []byte{CmdInfo, infoID}
}

// DecodeInfo parses a DAP_Info response
func (p *CMSISDAPProtocol) DecodeInfo(resp []byte) (string, error) {
	if len(resp) < 2 {
		return "", fmt.Errorf("response too short")
	}
	if resp[0] != CmdInfo {
		return "", fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}

	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("incomplete info string")
	}

	return string(resp[2 : 2+length]), nil
}

// EncodeConnect builds a DAP_Connect command
func (p *CMSISDAPProtocol) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect parses a DAP_Connect response
func (p *CMSISDAPProtocol) DecodeConnect(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("response too short")
	}
	if resp[0] != CmdConnect {
		return 0, fmt.Errorf("invalid command ID")
	}
	if resp[1] == 0 {
		return 0, fmt.Errorf("connection failed")
	}
	return resp[1], nil
}

// EncodeDisconnect builds a DAP_Disconnect command
func (p *CMSISDAPProtocol) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

// DecodeDisconnect parses a DAP_Disconnect response
func (p *CMSISDAPProtocol) DecodeDisconnect(resp []byte) error {
	return decodeStatus(resp, CmdDisconnect, "disconnect")
}

// EncodeTransferConfigure builds a DAP_TransferConfigure command
func (p *CMSISDAPProtocol) EncodeTransferConfigure(idleCycles byte, waitRetry, matchRetry uint16) []byte {
	cmd := make([]byte, 6)
	cmd[0] = CmdTransferConfigure
	cmd[1] = idleCycles
	binary.LittleEndian.PutUint16(cmd[2:], waitRetry)
	binary.LittleEndian.PutUint16(cmd[4:], matchRetry)
	return cmd
}

// DecodeTransferConfigure parses response
func (p *CMSISDAPProtocol) DecodeTransferConfigure(resp []byte) error {
	return decodeStatus(resp, CmdTransferConfigure, "transfer configure")
}

// EncodeSWDConfigure builds a DAP_SWD_Configure command
func (p *CMSISDAPProtocol) EncodeSWDConfigure(config byte) []byte {
	return []byte{CmdSWDConfigure, config}
}

// DecodeSWDConfigure parses response
func (p *CMSISDAPProtocol) DecodeSWDConfigure(resp []byte) error {
	return decodeStatus(resp, CmdSWDConfigure, "SWD configure")
}

// EncodeSWJSequence builds a DAP_SWJ_Sequence command. Bits are sent LSB
// first; a count of 256 is encoded as 0.
func (p *CMSISDAPProtocol) EncodeSWJSequence(bits int, data []byte) []byte {
	nbytes := (bits + 7) / 8
	cmd := make([]byte, 2+nbytes)
	cmd[0] = CmdSWJSequence
	cmd[1] = byte(bits & 0xFF)
	copy(cmd[2:], data)
	return cmd
}

// DecodeSWJSequence parses response
func (p *CMSISDAPProtocol) DecodeSWJSequence(resp []byte) error {
	return decodeStatus(resp, CmdSWJSequence, "SWJ sequence")
}

// Transfer is one DP or AP register access inside a DAP_Transfer command.
type Transfer struct {
	Request byte
	Data    uint32 // value to write; ignored for reads
}

// NewTransfer builds a transfer for register address addr (only A[3:2] are
// encoded, bank selection happens through DP SELECT).
func NewTransfer(ap, read bool, addr byte, data uint32) Transfer {
	req := (addr & 0x0C)
	if ap {
		req |= TransferAPnDP
	}
	if read {
		req |= TransferRnW
	}
	return Transfer{Request: req, Data: data}
}

// IsRead reports whether the transfer reads a register.
func (t Transfer) IsRead() bool {
	return t.Request&TransferRnW != 0
}

// TransferResult is the decoded DAP_Transfer response.
type TransferResult struct {
	Count int      // number of transfers completed
	Ack   byte     // acknowledge of the last transfer
	Data  []uint32 // values of the completed read transfers
}

// OK reports whether every requested transfer completed with an OK ACK.
func (r TransferResult) OK(requested int) bool {
	return r.Count == requested && r.Ack&AckMask == AckOK && r.Ack&(AckSWDError|AckMismatch) == 0
}

// EncodeTransfer builds a DAP_Transfer command
// Each transfer is: [request][data (writes only)]
func (p *CMSISDAPProtocol) EncodeTransfer(dapIndex byte, transfers []Transfer) []byte {
	size := 3
	for _, t := range transfers {
		size++
		if !t.IsRead() {
			size += 4
		}
	}

	cmd := make([]byte, size)
	cmd[0] = CmdTransfer
	cmd[1] = dapIndex
	cmd[2] = byte(len(transfers))

	offset := 3
	for _, t := range transfers {
		cmd[offset] = t.Request
		offset++
		if !t.IsRead() {
			binary.LittleEndian.PutUint32(cmd[offset:], t.Data)
			offset += 4
		}
	}

	return cmd
}

// DecodeTransfer parses a DAP_Transfer response
func (p *CMSISDAPProtocol) DecodeTransfer(resp []byte, transfers []Transfer) (TransferResult, error) {
	if len(resp) < 3 {
		return TransferResult{}, fmt.Errorf("response too short")
	}
	if resp[0] != CmdTransfer {
		return TransferResult{}, fmt.Errorf("invalid command ID")
	}

	result := TransferResult{
		Count: int(resp[1]),
		Ack:   resp[2],
	}
	if result.Count > len(transfers) {
		return result, fmt.Errorf("probe reported %d transfers, sent %d", result.Count, len(transfers))
	}

	// Read data is only present for completed reads
	offset := 3
	for i := 0; i < result.Count; i++ {
		if !transfers[i].IsRead() {
			continue
		}
		if offset+4 > len(resp) {
			return result, fmt.Errorf("incomplete read data")
		}
		result.Data = append(result.Data, binary.LittleEndian.Uint32(resp[offset:]))
		offset += 4
	}

	return result, nil
}

// EncodeSetClock builds a DAP_SWJ_Clock command
func (p *CMSISDAPProtocol) EncodeSetClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

// DecodeSetClock parses response
func (p *CMSISDAPProtocol) DecodeSetClock(resp []byte) error {
	return decodeStatus(resp, CmdSWJClock, "set clock")
}

func decodeStatus(resp []byte, cmd byte, what string) error {
	if len(resp) < 2 {
		return fmt.Errorf("response too short")
	}
	if resp[0] != cmd {
		return fmt.Errorf("invalid command ID")
	}
	if resp[1] != StatusOK {
		return fmt.Errorf("%s failed", what)
	}
	return nil
}
