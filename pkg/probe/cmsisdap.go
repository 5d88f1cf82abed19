package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/idcode"
)

// Debug port registers (A[3:2] encoded in the address)
const (
	dpDPIDR    = 0x00 // read
	dpABORT    = 0x00 // write
	dpCTRLSTAT = 0x04
	dpSELECT   = 0x08
	dpRDBUFF   = 0x0C
)

// MEM-AP registers
const (
	apCSW = 0x00
	apTAR = 0x04
	apDRW = 0x0C
	apIDR = 0xFC
)

// System control space addresses used to prove core access
const (
	addrCPUID = 0xE000ED00
	addrAIRCR = 0xE000ED0C
	addrDHCSR = 0xE000EDF0

	aircrSysResetReq = 0x05FA0004
)

const (
	abortClearAll   = 0x1E
	powerUpRequest  = 0x50000000 // CSYSPWRUPREQ | CDBGPWRUPREQ
	powerUpAck      = 0xA0000000 // CSYSPWRUPACK | CDBGPWRUPACK
	cswWord         = 0x23000002 // 32-bit, no increment, DbgSwEnable, HPROT
	powerUpAttempts = 10
)

// cortexParts lists the CPUID part numbers of the Cortex-M cores the
// session knows how to reset.
var cortexParts = map[uint32]string{
	0xC20: "Cortex-M0",
	0xC21: "Cortex-M1",
	0xC23: "Cortex-M3",
	0xC24: "Cortex-M4",
	0xC27: "Cortex-M7",
	0xC60: "Cortex-M0+",
	0xD20: "Cortex-M23",
	0xD21: "Cortex-M33",
}

// CMSISDAPProbe implements Prober over SWD for CMSIS-DAP probes
type CMSISDAPProbe struct {
	transport Transport
	protocol  *CMSISDAPProtocol

	info    Info
	clockHz uint32
	dpidr   uint32
	open    bool

	mu sync.Mutex // Protect concurrent access
}

// NewCMSISDAPProbe opens the USB probe matching vid:pid.
func NewCMSISDAPProbe(vid, pid uint16, clockHz uint32) (*CMSISDAPProbe, error) {
	transport, err := NewUSBTransport(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}

	p, err := NewCMSISDAPProbeWithTransport(transport, clockHz)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return p, nil
}

// NewCMSISDAPProbeWithTransport builds a probe on an already opened
// transport and queries its identification strings.
func NewCMSISDAPProbeWithTransport(transport Transport, clockHz uint32) (*CMSISDAPProbe, error) {
	if clockHz == 0 {
		clockHz = 1_000_000
	}
	p := &CMSISDAPProbe{
		transport: transport,
		protocol:  NewCMSISDAPProtocol(transport.PacketSize()),
		clockHz:   clockHz,
	}
	if err := p.queryInfo(); err != nil {
		return nil, fmt.Errorf("failed to query device info: %w", err)
	}
	return p, nil
}

// queryInfo retrieves device information from the probe
func (p *CMSISDAPProbe) queryInfo() error {
	vendor, err := p.infoString(InfoVendorID)
	if err != nil {
		return err
	}
	product, _ := p.infoString(InfoProductID)
	serial, _ := p.infoString(InfoSerialNum)
	firmware, _ := p.infoString(InfoFirmwareVer)

	p.info = Info{
		Name:         "CMSIS-DAP Probe",
		Vendor:       vendor,
		Model:        product,
		SerialNumber: serial,
		Firmware:     firmware,
	}
	return nil
}

func (p *CMSISDAPProbe) infoString(id byte) (string, error) {
	resp, err := p.transport.WriteRead(p.protocol.EncodeInfo(id))
	if err != nil {
		return "", err
	}
	return p.protocol.DecodeInfo(resp)
}

// Info returns the probe identification
func (p *CMSISDAPProbe) Info() Info {
	return p.info
}

// DPIDR returns the debug port ID read by the most recent Open.
func (p *CMSISDAPProbe) DPIDR() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dpidr
}

// Open connects over SWD, powers up the debug domain, and checks that the
// target's access ports are where the profile says.
func (p *CMSISDAPProbe) Open(ctx context.Context, target Target) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil, newError(KindUnknown, "open", errors.New("session already open"))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "open", err)
	}

	if err := p.connect(); err != nil {
		return nil, newError(KindUnknown, "connect", err)
	}
	p.open = true

	if err := p.attach(target); err != nil {
		p.disconnect()
		return nil, err
	}

	return &cmsisdapSession{probe: p, target: target}, nil
}

// connect selects SWD and configures the transfer engine
func (p *CMSISDAPProbe) connect() error {
	resp, err := p.transport.WriteRead(p.protocol.EncodeConnect(PortSWD))
	if err != nil {
		return err
	}
	port, err := p.protocol.DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortSWD {
		return fmt.Errorf("failed to connect to SWD (got port %d)", port)
	}

	resp, err = p.transport.WriteRead(p.protocol.EncodeSetClock(p.clockHz))
	if err != nil {
		return fmt.Errorf("set clock failed: %w", err)
	}
	if err := p.protocol.DecodeSetClock(resp); err != nil {
		return err
	}

	resp, err = p.transport.WriteRead(p.protocol.EncodeTransferConfigure(0, 64, 0))
	if err != nil {
		return fmt.Errorf("transfer configure failed: %w", err)
	}
	if err := p.protocol.DecodeTransferConfigure(resp); err != nil {
		return err
	}

	// One turnaround clock, data phase only on WAIT/FAULT
	resp, err = p.transport.WriteRead(p.protocol.EncodeSWDConfigure(0))
	if err != nil {
		return fmt.Errorf("SWD configure failed: %w", err)
	}
	if err := p.protocol.DecodeSWDConfigure(resp); err != nil {
		return err
	}

	return p.switchToSWD()
}

// switchToSWD sends line reset, the JTAG-to-SWD select sequence, a second
// line reset and idle cycles.
func (p *CMSISDAPProbe) switchToSWD() error {
	ones := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	sequences := []struct {
		bits int
		data []byte
	}{
		{51, ones},
		{16, []byte{0x9E, 0xE7}},
		{51, ones},
		{8, []byte{0x00}},
	}
	for _, seq := range sequences {
		resp, err := p.transport.WriteRead(p.protocol.EncodeSWJSequence(seq.bits, seq.data))
		if err != nil {
			return fmt.Errorf("SWJ sequence failed: %w", err)
		}
		if err := p.protocol.DecodeSWJSequence(resp); err != nil {
			return err
		}
	}
	return nil
}

func (p *CMSISDAPProbe) attach(target Target) error {
	dpidr, err := p.readDP(dpDPIDR)
	if err != nil {
		return newError(KindAPRead, "read DPIDR", err)
	}
	if !idcode.ParseDPIDR(dpidr).Valid {
		return newError(KindAPRead, "read DPIDR", fmt.Errorf("DPIDR 0x%08X", dpidr))
	}
	p.dpidr = dpidr

	if err := p.writeDP(dpABORT, abortClearAll); err != nil {
		return newError(KindAPRead, "clear sticky errors", err)
	}
	if err := p.powerUp(); err != nil {
		return newError(KindAPRead, "power up debug domain", err)
	}

	if target.HasCtrlAP {
		idr, err := p.readAP(target.CtrlAP, apIDR)
		if err != nil {
			return newError(KindAPRead, "read CTRL-AP IDR", err)
		}
		if idr != target.CtrlAPIDR {
			return newError(KindBadCtrlAPIDR, "check CTRL-AP",
				fmt.Errorf("IDR 0x%08X, want 0x%08X", idr, target.CtrlAPIDR))
		}
	}

	idr, err := p.readAP(target.AHBAP, apIDR)
	if err != nil {
		return newError(KindAPRead, "read AHB-AP IDR", err)
	}
	if idr == 0 || !idcode.ParseAPIDR(idr).IsMemAP() {
		return newError(KindResourceMissing, "find AHB-AP",
			fmt.Errorf("no memory access port at index %d (IDR 0x%08X)", target.AHBAP, idr))
	}

	cpuid, err := p.readMem(target.AHBAP, addrCPUID)
	if err != nil {
		return newError(KindAHBTransfer, "read CPUID", err)
	}
	implementer, part := cpuid>>24, (cpuid>>4)&0xFFF
	if _, ok := cortexParts[part]; implementer != 0x41 || !ok {
		return newError(KindUnsupported, "identify core", fmt.Errorf("CPUID 0x%08X", cpuid))
	}

	return nil
}

func (p *CMSISDAPProbe) powerUp() error {
	if err := p.writeDP(dpCTRLSTAT, powerUpRequest); err != nil {
		return err
	}
	for i := 0; i < powerUpAttempts; i++ {
		stat, err := p.readDP(dpCTRLSTAT)
		if err != nil {
			return err
		}
		if stat&powerUpAck == powerUpAck {
			return nil
		}
	}
	return errors.New("power-up not acknowledged")
}

func (p *CMSISDAPProbe) disconnect() {
	if resp, err := p.transport.WriteRead(p.protocol.EncodeDisconnect()); err == nil {
		_ = p.protocol.DecodeDisconnect(resp)
	}
	p.open = false
}

func (p *CMSISDAPProbe) readDP(addr byte) (uint32, error) {
	data, err := p.transfer(NewTransfer(false, true, addr, 0))
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (p *CMSISDAPProbe) writeDP(addr byte, value uint32) error {
	_, err := p.transfer(NewTransfer(false, false, addr, value))
	return err
}

// readAP selects the AP bank holding addr and reads the register. The probe
// firmware takes care of the posted-read RDBUFF access.
func (p *CMSISDAPProbe) readAP(apsel uint8, addr byte) (uint32, error) {
	data, err := p.transfer(
		NewTransfer(false, false, dpSELECT, uint32(apsel)<<24|uint32(addr&0xF0)),
		NewTransfer(true, true, addr, 0),
	)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (p *CMSISDAPProbe) readMem(apsel uint8, addr uint32) (uint32, error) {
	data, err := p.transfer(
		NewTransfer(false, false, dpSELECT, uint32(apsel)<<24),
		NewTransfer(true, false, apCSW, cswWord),
		NewTransfer(true, false, apTAR, addr),
		NewTransfer(true, true, apDRW, 0),
	)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (p *CMSISDAPProbe) writeMem(apsel uint8, addr, value uint32) error {
	_, err := p.transfer(
		NewTransfer(false, false, dpSELECT, uint32(apsel)<<24),
		NewTransfer(true, false, apCSW, cswWord),
		NewTransfer(true, false, apTAR, addr),
		NewTransfer(true, false, apDRW, value),
		NewTransfer(false, true, dpRDBUFF, 0),
	)
	return err
}

func (p *CMSISDAPProbe) transfer(transfers ...Transfer) ([]uint32, error) {
	resp, err := p.transport.WriteRead(p.protocol.EncodeTransfer(0, transfers))
	if err != nil {
		return nil, err
	}
	result, err := p.protocol.DecodeTransfer(resp, transfers)
	if err != nil {
		return nil, err
	}
	if !result.OK(len(transfers)) {
		return nil, fmt.Errorf("transfer %d/%d: %s", result.Count+1, len(transfers), ackName(result.Ack))
	}
	return result.Data, nil
}

func ackName(ack byte) string {
	switch {
	case ack&AckSWDError != 0:
		return "SWD protocol error"
	case ack&AckMismatch != 0:
		return "value mismatch"
	}
	switch ack & AckMask {
	case AckOK:
		return "OK"
	case AckWait:
		return "ACK WAIT"
	case AckFault:
		return "ACK FAULT"
	case AckNoAck:
		return "no ACK"
	}
	return fmt.Sprintf("ACK 0x%X", ack&AckMask)
}

// Close disconnects and releases the USB transport
func (p *CMSISDAPProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		p.disconnect()
	}
	return p.transport.Close()
}

type cmsisdapSession struct {
	probe  *CMSISDAPProbe
	target Target
	closed bool
}

// ResetTarget requests a system reset through AIRCR and proves core access
// is still granted afterwards by reading DHCSR.
func (s *cmsisdapSession) ResetTarget(ctx context.Context) error {
	p := s.probe
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.closed {
		return newError(KindUnknown, "reset", errors.New("session closed"))
	}
	if err := ctx.Err(); err != nil {
		return newError(KindUnknown, "reset", err)
	}

	if err := p.writeMem(s.target.AHBAP, addrAIRCR, aircrSysResetReq); err != nil {
		return newError(KindMemoryFault, "write AIRCR", err)
	}
	if err := p.writeDP(dpABORT, abortClearAll); err != nil {
		return newError(KindAPRead, "clear sticky errors", err)
	}
	if _, err := p.readMem(s.target.AHBAP, addrDHCSR); err != nil {
		return newError(KindMemoryFault, "read DHCSR", err)
	}
	return nil
}

func (s *cmsisdapSession) Close() error {
	p := s.probe
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	p.disconnect()
	return nil
}
