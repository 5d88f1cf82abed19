package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// OpenOCDConfig points the OpenOCD prober at the interface and target
// scripts it should load.
type OpenOCDConfig struct {
	Binary    string // defaults to "openocd"
	Interface string // e.g. interface/jlink.cfg
	Transport string // defaults to "swd"
	Target    string // e.g. target/nrf52.cfg
}

// OpenOCDProber runs one OpenOCD process per operation. It is much slower
// than talking to a CMSIS-DAP probe directly but works with any adapter
// OpenOCD supports.
type OpenOCDProber struct {
	cfg OpenOCDConfig

	// run executes the binary; replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewOpenOCDProber validates cfg and returns a prober.
func NewOpenOCDProber(cfg OpenOCDConfig) (*OpenOCDProber, error) {
	if cfg.Interface == "" || cfg.Target == "" {
		return nil, fmt.Errorf("probe: openocd needs interface and target scripts")
	}
	if cfg.Binary == "" {
		cfg.Binary = "openocd"
	}
	if cfg.Transport == "" {
		cfg.Transport = "swd"
	}
	return &OpenOCDProber{cfg: cfg, run: runCombined}, nil
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (o *OpenOCDProber) args(commands string) []string {
	return []string{
		"-f", o.cfg.Interface,
		"-c", "transport select " + o.cfg.Transport,
		"-f", o.cfg.Target,
		"-c", commands,
	}
}

func (o *OpenOCDProber) exec(ctx context.Context, op, commands string) error {
	out, err := o.run(ctx, o.cfg.Binary, o.args(commands)...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return newError(KindUnknown, op, ctx.Err())
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return newError(KindUnknown, op, err)
	}
	kind, msg := classifyOutput(out)
	return newError(kind, op, errors.New(msg))
}

// openocdMessages maps what OpenOCD prints about a target that refuses
// debug access. A locked nRF52 answers on the DP but hides the MEM-AP.
var openocdMessages = []struct {
	fragment string
	kind     Kind
}{
	{"Could not find MEM-AP", KindResourceMissing},
	{"Failed to read memory", KindAHBTransfer},
	{"Failed to write memory", KindMemoryFault},
	{"cannot read IDR", KindAPRead},
	{"Invalid ACK", KindAPRead},
}

// classifyOutput returns the Kind of the first line OpenOCD printed that
// says something recognisable, together with the message to report. With
// nothing recognisable the first "Error:" line, or the last line, is
// reported as KindUnknown.
func classifyOutput(out []byte) (Kind, string) {
	var firstErr, last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		msg := strings.TrimSpace(strings.TrimPrefix(line, "Error:"))
		for _, m := range openocdMessages {
			if strings.Contains(line, m.fragment) {
				return m.kind, msg
			}
		}
		if kind := KindFromMessage(line); kind != KindUnknown {
			return kind, msg
		}
		if firstErr == "" && strings.HasPrefix(line, "Error:") {
			firstErr = msg
		}
	}
	switch {
	case firstErr != "":
		return KindUnknown, firstErr
	case last != "":
		return KindUnknown, last
	}
	return KindUnknown, "openocd exited with an error"
}

// Open runs OpenOCD's init against the target. A locked nRF52 refuses the
// AHB-AP, which OpenOCD reports as an error.
func (o *OpenOCDProber) Open(ctx context.Context, target Target) (Session, error) {
	if err := o.exec(ctx, "open "+target.Name, "init; exit"); err != nil {
		return nil, err
	}
	return &openocdSession{prober: o, target: target}, nil
}

type openocdSession struct {
	prober *OpenOCDProber
	target Target
}

func (s *openocdSession) ResetTarget(ctx context.Context) error {
	return s.prober.exec(ctx, "reset "+s.target.Name, "init; reset halt; exit")
}

// Close is a no-op: every OpenOCD run already released the adapter on exit.
func (s *openocdSession) Close() error {
	return nil
}
