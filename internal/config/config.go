// Package config loads the hardware and scan settings of the emfi tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by the probe, pulser and motion sections.
const (
	BackendCMSISDAP    = "cmsis-dap"
	BackendOpenOCD     = "openocd"
	BackendChipShouter = "chipshouter"
	BackendMoonraker   = "moonraker"
	BackendSimulator   = "simulator"
)

// Defaults follow the bench the tool was first used on.
const (
	DefaultTarget        = "nrf52810"
	DefaultClockHz       = 1_000_000
	DefaultSerialPort    = "/dev/ttyUSB0"
	DefaultBaud          = 115200
	DefaultVoltageMin    = 350
	DefaultVoltageMax    = 450
	DefaultMoonrakerURL  = "http://localhost:7125"
	DefaultFeedRate      = 7800
	DefaultMotionTimeout = 10 * time.Second
	DefaultPulsePeriod   = 250 * time.Millisecond
	DefaultFaultSettle   = 500 * time.Millisecond
	DefaultFaultAttempts = 5
	DefaultEventBuffer   = 1024
)

// Config is the top-level configuration file.
type Config struct {
	// Target is the debug target profile, e.g. nrf52810.
	Target  string        `yaml:"target"`
	Probe   ProbeConfig   `yaml:"probe"`
	Pulser  PulserConfig  `yaml:"pulser"`
	Motion  MotionConfig  `yaml:"motion"`
	Scan    ScanConfig    `yaml:"scan"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ProbeConfig selects the debug probe backend.
type ProbeConfig struct {
	Backend   string        `yaml:"backend"`
	VendorID  uint16        `yaml:"vid"`
	ProductID uint16        `yaml:"pid"`
	ClockHz   uint32        `yaml:"clock_hz"`
	OpenOCD   OpenOCDConfig `yaml:"openocd"`
}

// OpenOCDConfig names the scripts the openocd backend loads.
type OpenOCDConfig struct {
	Binary    string `yaml:"binary"`
	Interface string `yaml:"interface"`
	Target    string `yaml:"target"`
}

// PulserConfig selects the pulse generator and its voltage range.
type PulserConfig struct {
	Backend    string `yaml:"backend"`
	Port       string `yaml:"port"`
	Baud       int    `yaml:"baud"`
	VoltageMin int    `yaml:"voltage_min"`
	VoltageMax int    `yaml:"voltage_max"`
}

// MotionConfig selects the motion stage.
type MotionConfig struct {
	Backend  string        `yaml:"backend"`
	URL      string        `yaml:"url"`
	FeedRate int           `yaml:"feed_rate"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ScanConfig holds timing and output settings of a scan. Grid extents come
// from the command line.
type ScanConfig struct {
	PulsePeriod   time.Duration `yaml:"pulse_period"`
	FaultSettle   time.Duration `yaml:"fault_settle"`
	FaultAttempts int           `yaml:"fault_attempts"`
	EventBuffer   int           `yaml:"event_buffer"`
	// Output is the results file. Empty means a name derived from the
	// start time.
	Output       string `yaml:"output"`
	Seed         uint64 `yaml:"seed"`
	StopOnUnlock bool   `yaml:"stop_on_unlock"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig controls the log encoder.
type LogConfig struct {
	Format string `yaml:"format"` // console or json
}

// Load reads the file at path on top of the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config for a Raspberry Pi debug probe, a ChipSHOUTER
// and a Moonraker stage on localhost.
func Default() *Config {
	return &Config{
		Target: DefaultTarget,
		Probe: ProbeConfig{
			Backend:   BackendCMSISDAP,
			VendorID:  0x2E8A,
			ProductID: 0x000C,
			ClockHz:   DefaultClockHz,
			OpenOCD: OpenOCDConfig{
				Binary:    "openocd",
				Interface: "interface/cmsis-dap.cfg",
				Target:    "target/nrf52.cfg",
			},
		},
		Pulser: PulserConfig{
			Backend:    BackendChipShouter,
			Port:       DefaultSerialPort,
			Baud:       DefaultBaud,
			VoltageMin: DefaultVoltageMin,
			VoltageMax: DefaultVoltageMax,
		},
		Motion: MotionConfig{
			Backend:  BackendMoonraker,
			URL:      DefaultMoonrakerURL,
			FeedRate: DefaultFeedRate,
			Timeout:  DefaultMotionTimeout,
		},
		Scan: ScanConfig{
			PulsePeriod:   DefaultPulsePeriod,
			FaultSettle:   DefaultFaultSettle,
			FaultAttempts: DefaultFaultAttempts,
			EventBuffer:   DefaultEventBuffer,
		},
		Log: LogConfig{Format: "console"},
	}
}

// Validate checks structural constraints. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.Target == "" {
		errs = append(errs, errors.New("target must be set"))
	}

	switch c.Probe.Backend {
	case BackendCMSISDAP, BackendSimulator:
	case BackendOpenOCD:
		if c.Probe.OpenOCD.Interface == "" || c.Probe.OpenOCD.Target == "" {
			errs = append(errs, errors.New("probe.openocd.interface and probe.openocd.target are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("probe.backend %q unknown: want cmsis-dap|openocd|simulator", c.Probe.Backend))
	}

	switch c.Pulser.Backend {
	case BackendChipShouter:
		if c.Pulser.Port == "" {
			errs = append(errs, errors.New("pulser.port must be set"))
		}
	case BackendSimulator:
	default:
		errs = append(errs, fmt.Errorf("pulser.backend %q unknown: want chipshouter|simulator", c.Pulser.Backend))
	}
	if c.Pulser.VoltageMin <= 0 || c.Pulser.VoltageMax < c.Pulser.VoltageMin {
		errs = append(errs, fmt.Errorf("pulser voltage range [%d, %d] is invalid", c.Pulser.VoltageMin, c.Pulser.VoltageMax))
	}

	switch c.Motion.Backend {
	case BackendMoonraker:
		if c.Motion.URL == "" {
			errs = append(errs, errors.New("motion.url must be set"))
		}
	case BackendSimulator:
	default:
		errs = append(errs, fmt.Errorf("motion.backend %q unknown: want moonraker|simulator", c.Motion.Backend))
	}

	if c.Scan.PulsePeriod < 0 || c.Scan.FaultSettle < 0 {
		errs = append(errs, errors.New("scan durations must not be negative"))
	}
	if c.Scan.FaultAttempts < 1 {
		errs = append(errs, fmt.Errorf("scan.fault_attempts %d must be at least 1", c.Scan.FaultAttempts))
	}
	if c.Scan.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("scan.event_buffer %d must be at least 1", c.Scan.EventBuffer))
	}

	switch c.Log.Format {
	case "console", "json", "":
	default:
		errs = append(errs, fmt.Errorf("log.format %q unknown: want console|json", c.Log.Format))
	}
	return errors.Join(errs...)
}
