package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"
)

var (
	probeTarget  string
	probeTimeout time.Duration
	simUnlocked  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Make one debug attempt against the target",
	Long: `Open a debug session, reset the target and close the session again, exactly as
the scan monitor does, then print how the result was classified.

Examples:
  emfi probe                             # Use the configured probe and target
  emfi probe --target nrf52840 -v        # Show probe and debug port details`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeTarget, "target", "t", "",
		"target profile (default from config)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second,
		"give up after this long")
	probeCmd.Flags().BoolVar(&simUnlocked, "sim-unlocked", false,
		"simulator: report the target as unlocked")
}

func runProbe(cmd *cobra.Command, args []string) error {
	name := cfg.Target
	if probeTarget != "" {
		name = probeTarget
	}
	target, err := probe.LookupTarget(name)
	if err != nil {
		return err
	}

	prober, closer, err := newProber(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	if sim, ok := prober.(*probe.SimProber); ok && simUnlocked {
		sim.Default = probe.SimResult{}
	}

	if dap, ok := prober.(*probe.CMSISDAPProbe); ok && verbose {
		info := dap.Info()
		fmt.Printf("Probe: %s %s (serial %s, firmware %s)\n", info.Vendor, info.Model, info.SerialNumber, info.Firmware)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	fmt.Printf("Attempting debug session on %s via %s...\n", target.Name, cfg.Probe.Backend)
	attemptErr := attemptOnce(ctx, prober, target)

	if dap, ok := prober.(*probe.CMSISDAPProbe); ok && dap.DPIDR() != 0 {
		fmt.Printf("DPIDR: %s\n", idcode.ParseDPIDR(dap.DPIDR()))
	}

	status, emit := monitor.Classify(attemptErr)
	switch {
	case !emit:
		fmt.Printf("Status: %s (%s)\n", monitor.LockedTimeout, probe.KindOf(attemptErr))
	case attemptErr != nil:
		fmt.Printf("Status: %s: %v\n", status, attemptErr)
	default:
		fmt.Printf("Status: %s\n", status)
	}
	return nil
}

func attemptOnce(ctx context.Context, prober probe.Prober, target probe.Target) error {
	s, err := prober.Open(ctx, target)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.ResetTarget(ctx)
}
