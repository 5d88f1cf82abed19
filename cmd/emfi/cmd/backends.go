package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OpenTraceLab/OpenTraceEMFI/internal/config"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/motion"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/pulser"
)

// simLatency paces the simulated debug probe roughly like a real one.
const simLatency = 5 * time.Millisecond

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newProber builds the configured debug probe backend.
func newProber(c *config.Config) (probe.Prober, io.Closer, error) {
	switch c.Probe.Backend {
	case config.BackendCMSISDAP:
		p, err := probe.NewCMSISDAPProbe(c.Probe.VendorID, c.Probe.ProductID, c.Probe.ClockHz)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open debug probe: %w", err)
		}
		return p, p, nil
	case config.BackendOpenOCD:
		p, err := probe.NewOpenOCDProber(probe.OpenOCDConfig{
			Binary:    c.Probe.OpenOCD.Binary,
			Interface: c.Probe.OpenOCD.Interface,
			Target:    c.Probe.OpenOCD.Target,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nopCloser{}, nil
	case config.BackendSimulator:
		sim := probe.NewSimProber()
		sim.Latency = simLatency
		return sim, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unsupported probe backend: %s", c.Probe.Backend)
}

// newGenerator builds the configured pulse generator, armed and ready.
func newGenerator(c *config.Config) (pulser.Generator, io.Closer, error) {
	switch c.Pulser.Backend {
	case config.BackendChipShouter:
		cs, err := pulser.OpenChipShouter(c.Pulser.Port, c.Pulser.Baud, pulser.WithConsoleLogger(logger.Named("chipshouter")))
		if err != nil {
			return nil, nil, err
		}
		return cs, cs, nil
	case config.BackendSimulator:
		sim := pulser.NewSim()
		if err := sim.Arm(true); err != nil {
			return nil, nil, err
		}
		return sim, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unsupported pulser backend: %s", c.Pulser.Backend)
}

// newStage builds the configured motion stage.
func newStage(c *config.Config) (motion.Stage, error) {
	switch c.Motion.Backend {
	case config.BackendMoonraker:
		return motion.NewMoonraker(c.Motion.URL,
			motion.WithFeedRate(c.Motion.FeedRate),
			motion.WithHTTPClient(&http.Client{Timeout: c.Motion.Timeout}),
			motion.WithLogger(logger.Named("moonraker")))
	case config.BackendSimulator:
		return &motion.Recorder{}, nil
	}
	return nil, fmt.Errorf("unsupported motion backend: %s", c.Motion.Backend)
}
