package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available debug probes",
	Long: `Scan the host for CMSIS-DAP debug probes and print a summary of what was found.
Use this to verify connectivity before starting a scan. The simulator is always
listed so a scan can be rehearsed without hardware.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := probe.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	fmt.Println("Detected debug probes:")
	for _, iface := range infos {
		line := fmt.Sprintf("  - %s [%s]", iface.Label(), iface.Kind)
		if iface.Kind == probe.InterfaceKindCMSISDAP {
			line += fmt.Sprintf(" (VID:PID %04X:%04X)", iface.VendorID, iface.ProductID)
		}
		if iface.Serial != "" {
			line += " serial " + iface.Serial
		}
		fmt.Println(line)
	}

	fmt.Printf("\nTarget profiles: %v\n", probe.TargetNames())
	return nil
}
