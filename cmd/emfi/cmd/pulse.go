package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/pulser"
)

var (
	pulseRepeat int
	pulseDisarm bool
)

var pulseCmd = &cobra.Command{
	Use:   "pulse <voltage>",
	Short: "Fire pulses at a fixed voltage",
	Long: `Clear any latched fault, set the voltage and fire. Useful to check the pulse
generator and the injector tip on the bench before a scan.

Examples:
  emfi pulse 400
  emfi pulse 450 --repeat 10 --disarm`,
	Args: cobra.ExactArgs(1),
	RunE: runPulse,
}

func init() {
	rootCmd.AddCommand(pulseCmd)

	pulseCmd.Flags().IntVarP(&pulseRepeat, "repeat", "r", 1, "number of pulses")
	pulseCmd.Flags().BoolVar(&pulseDisarm, "disarm", false, "disarm when done")
}

func runPulse(cmd *cobra.Command, args []string) error {
	volts, err := strconv.Atoi(args[0])
	if err != nil || volts <= 0 {
		return fmt.Errorf("voltage must be a positive integer, got %q", args[0])
	}
	if pulseRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	gen, closer, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	guard := pulser.NewGuard(gen,
		pulser.WithAttempts(cfg.Scan.FaultAttempts),
		pulser.WithSettle(cfg.Scan.FaultSettle),
		pulser.WithGuardLogger(logger.Named("guard")))

	ctx := context.Background()
	for i := 1; i <= pulseRepeat; i++ {
		if err := guard.EnsureReady(ctx); err != nil {
			return err
		}
		if err := gen.SetVoltage(volts); err != nil {
			return err
		}
		if err := gen.Fire(); err != nil {
			return err
		}
		fmt.Printf("Pulse %d/%d at %d V\n", i, pulseRepeat, volts)
	}

	if pulseDisarm {
		if err := gen.Arm(false); err != nil {
			return err
		}
		fmt.Println("Disarmed")
	}
	return nil
}
