package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceEMFI/internal/config"
	"github.com/OpenTraceLab/OpenTraceEMFI/internal/logging"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/scan"
)

// Exit codes
const (
	exitOK         = 0
	exitFailure    = 1 // includes an unrecoverable pulse generator fault
	exitDebugError = 2
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "emfi",
	Short: "Electromagnetic fault injection scanner",
	Long: `Drive an EMFI scan over the surface of a chip: move the stage, fire pulses at
random voltages and watch the debug port for an unlock.

Examples:
  emfi interfaces                               # List debug probes
  emfi probe                                    # Try to open the debug port once
  emfi pulse 400                                # Fire one pulse at 400 V
  emfi scan 20 20 --step 0.1 --pulses 3         # Scan a 20x20 grid`,
	Version:       "0.3.0",
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(verbose, cfg.Log.Format)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command and exits with a code describing how the
// scan ended.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var debugErr *scan.DebugError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &debugErr):
		return exitDebugError
	}
	return exitFailure
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
}
