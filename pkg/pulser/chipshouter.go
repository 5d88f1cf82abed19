package pulser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultPort = "/dev/ttyUSB0"
	DefaultBaud = 115200

	consolePrompt = "\r\n# "
	bootBanner    = "NewAE Technology"
	replyTimeout  = 2 * time.Second
)

// ChipShouter talks to a ChipSHOUTER over its serial console. Every command
// is answered with a reply terminated by the console prompt.
type ChipShouter struct {
	port    io.ReadWriteCloser
	logger  *zap.Logger
	timeout time.Duration

	mu  sync.Mutex
	buf []byte
}

// ChipShouterOption configures a ChipShouter.
type ChipShouterOption func(*ChipShouter)

// WithConsoleLogger logs every console exchange at debug level.
func WithConsoleLogger(l *zap.Logger) ChipShouterOption {
	return func(c *ChipShouter) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReplyTimeout bounds how long a command waits for the prompt.
func WithReplyTimeout(d time.Duration) ChipShouterOption {
	return func(c *ChipShouter) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// OpenChipShouter opens the serial port and prepares the device for
// single pulses.
func OpenChipShouter(portName string, baud int, opts ...ChipShouterOption) (*ChipShouter, error) {
	if portName == "" {
		portName = DefaultPort
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("pulser: open %s: %w", portName, err)
	}
	// Short reads let the reply loop notice its own deadline
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("pulser: configure %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("pulser: flush %s: %w", portName, err)
	}

	c := NewChipShouter(port, opts...)
	if err := c.Init(); err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

// NewChipShouter wraps an already open console. Reads on rw may return
// (0, nil) when no data is pending.
func NewChipShouter(rw io.ReadWriteCloser, opts ...ChipShouterOption) *ChipShouter {
	c := &ChipShouter{
		port:    rw,
		logger:  zap.NewNop(),
		timeout: replyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init mutes the buzzer, selects single pulses and arms the device if it
// is not armed already.
func (c *ChipShouter) Init() error {
	if _, err := c.command("set mute 1"); err != nil {
		return err
	}
	if _, err := c.command("set pulse_repeat 1"); err != nil {
		return err
	}
	armed, err := c.command("get armed")
	if err != nil {
		return err
	}
	if armed != "1" {
		return c.Arm(true)
	}
	return nil
}

func (c *ChipShouter) SetVoltage(volts int) error {
	_, err := c.command("set voltage " + strconv.Itoa(volts))
	return err
}

func (c *ChipShouter) Fire() error {
	_, err := c.command("pulse")
	return err
}

// Faulted reports whether the device state mentions a fault.
func (c *ChipShouter) Faulted() (bool, error) {
	state, err := c.command("get state")
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(state), "fault"), nil
}

func (c *ChipShouter) ClearFaults() error {
	_, err := c.command("set faults_current 0")
	return err
}

func (c *ChipShouter) Arm(armed bool) error {
	v := "0"
	if armed {
		v = "1"
	}
	_, err := c.command("set armed " + v)
	return err
}

// Close releases the serial port.
func (c *ChipShouter) Close() error {
	return c.port.Close()
}

// command sends one line and returns the reply with the echo and prompt
// stripped.
func (c *ChipShouter) command(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.port, cmd+"\r\n"); err != nil {
		return "", fmt.Errorf("pulser: write %q: %w", cmd, err)
	}
	raw, err := c.readReply()
	if err != nil {
		return "", fmt.Errorf("pulser: %q: %w", cmd, err)
	}
	if strings.Contains(raw, bootBanner) {
		c.logger.Warn("ChipSHOUTER rebooted", zap.String("command", cmd))
		return "", ErrDeviceReset
	}

	reply := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), cmd))
	c.logger.Debug("console", zap.String("command", cmd), zap.String("reply", reply))
	if strings.HasPrefix(reply, "ERR") {
		return "", fmt.Errorf("pulser: %q: device replied %q", cmd, reply)
	}
	return reply, nil
}

func (c *ChipShouter) readReply() (string, error) {
	deadline := time.Now().Add(c.timeout)
	chunk := make([]byte, 256)
	for {
		if i := bytes.Index(c.buf, []byte(consolePrompt)); i >= 0 {
			reply := string(c.buf[:i])
			c.buf = append(c.buf[:0], c.buf[i+len(consolePrompt):]...)
			return reply, nil
		}
		if time.Now().After(deadline) {
			return "", errors.New("no prompt before timeout")
		}
		n, err := c.port.Read(chunk)
		c.buf = append(c.buf, chunk[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n == 0 && errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
	}
}
