package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/pulser"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/results"
	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/scan"
)

var (
	xOffset      int
	stepSize     float64
	pulseCount   int
	outputPath   string
	seed         uint64
	stopOnUnlock bool
	metricsAddr  string
)

var scanCmd = &cobra.Command{
	Use:   "scan <x> <y>",
	Short: "Scan a grid of positions with EM pulses",
	Long: `Walk an x by y grid in serpentine order, firing pulses at random voltages at
every position while a background monitor keeps trying to open the debug port.
Every pulse is appended to a CSV file as time,x,y,voltage,status.

The scan stops early when the pulse generator cannot be cleared of a fault
(exit code 1) or when the debug probe reports an error nobody recognises
(exit code 2). A completed scan disarms the generator and homes the stage.

Examples:
  # 10x8 grid, 0.1 mm steps, one pulse per position
  emfi scan 10 8

  # Resume a row: skip the first 4 columns of the first row only
  emfi scan 10 8 --x-offset 4 --pulses 3

  # Dry run against simulated hardware with Prometheus metrics
  emfi scan 5 5 --config sim.yaml --metrics-addr :9100`,
	Args: cobra.ExactArgs(2),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().IntVarP(&xOffset, "x-offset", "x", 0,
		"columns to skip on the first row only")
	scanCmd.Flags().Float64VarP(&stepSize, "step", "s", scan.DefaultStep,
		"stage distance between positions")
	scanCmd.Flags().IntVarP(&pulseCount, "pulses", "p", scan.DefaultPulses,
		"pulses per position")
	scanCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"results CSV (default: start time, e.g. \"2024-03-09 14:05.csv\")")
	scanCmd.Flags().Uint64Var(&seed, "seed", 0,
		"voltage RNG seed (0 = random)")
	scanCmd.Flags().BoolVar(&stopOnUnlock, "stop-on-unlock", false,
		"stop after the first unlocked outcome")
	scanCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address")
}

func parseExtent(name, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, arg)
	}
	return n, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	xSize, err := parseExtent("x", args[0])
	if err != nil {
		return err
	}
	ySize, err := parseExtent("y", args[1])
	if err != nil {
		return err
	}

	// Flags win over the file
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Scan.Output = outputPath
	}
	if flags.Changed("seed") {
		cfg.Scan.Seed = seed
	}
	if flags.Changed("stop-on-unlock") {
		cfg.Scan.StopOnUnlock = stopOnUnlock
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Listen = metricsAddr
	}

	scanCfg := scan.Config{
		XSize:        xSize,
		YSize:        ySize,
		XOffset:      xOffset,
		Step:         stepSize,
		Pulses:       pulseCount,
		VoltageMin:   cfg.Pulser.VoltageMin,
		VoltageMax:   cfg.Pulser.VoltageMax,
		PulsePeriod:  cfg.Scan.PulsePeriod,
		StopOnUnlock: cfg.Scan.StopOnUnlock,
		Seed:         cfg.Scan.Seed,
	}
	if err := scanCfg.Validate(); err != nil {
		return err
	}

	target, err := probe.LookupTarget(cfg.Target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanID := uuid.NewString()
	log := logger.With(zap.String("scan", scanID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := scan.NewMetrics(reg)

	if verbose {
		fmt.Printf("Creating %s debug probe for %s...\n", cfg.Probe.Backend, target.Name)
	}
	prober, proberCloser, err := newProber(cfg)
	if err != nil {
		return err
	}
	defer proberCloser.Close()

	fmt.Printf("Connecting to the %s pulse generator\n", cfg.Pulser.Backend)
	gen, genCloser, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	defer genCloser.Close()

	stage, err := newStage(cfg)
	if err != nil {
		return err
	}

	path := cfg.Scan.Output
	if path == "" {
		path = results.DefaultName(time.Now())
	}
	sink, err := results.Create(path)
	if err != nil {
		return err
	}
	defer sink.Close()

	worker := monitor.NewWorker(prober, target,
		monitor.WithBuffer(cfg.Scan.EventBuffer),
		monitor.WithLogger(log.Named("monitor")),
		monitor.WithObserver(metrics.ObserveAttempt))
	guard := pulser.NewGuard(gen,
		pulser.WithAttempts(cfg.Scan.FaultAttempts),
		pulser.WithSettle(cfg.Scan.FaultSettle),
		pulser.WithRecoveryHook(metrics.ObserveRecovery),
		pulser.WithGuardLogger(log.Named("guard")))
	ctrl, err := scan.NewController(scanCfg, gen, guard, stage, worker.Events(), sink,
		scan.WithID(scanID),
		scan.WithLogger(log),
		scan.WithMetrics(metrics))
	if err != nil {
		return err
	}

	// The monitor and the metrics server live until the command returns.
	g, gctx := errgroup.WithContext(ctx)
	background, shutdown := context.WithCancel(gctx)
	defer shutdown()

	g.Go(func() error {
		if err := worker.Run(background); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(background, cfg.Metrics.Listen, reg)
		})
	}

	fmt.Printf("Scanning %dx%d grid (scan %s), writing %s\n", xSize, ySize, scanID, path)
	summary, scanErr := ctrl.Run(gctx)
	shutdown()
	if err := g.Wait(); err != nil && scanErr == nil {
		scanErr = err
	}

	printSummary(summary, worker.Attempts())
	if scanErr != nil {
		return fmt.Errorf("scan aborted: %w", scanErr)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func printSummary(s scan.Summary, attempts uint64) {
	fmt.Printf("\nScan %s: %d position(s), %d pulse(s), %d debug attempt(s)\n",
		s.ID, s.Positions, s.Pulses, attempts)
	for _, status := range []monitor.Status{monitor.Unlocked, monitor.APError, monitor.LockedTimeout} {
		if n := s.Counts[status]; n > 0 {
			fmt.Printf("  %-9s %d\n", status, n)
		}
	}
	if s.StoppedEarly {
		fmt.Println("Stopped early: target unlocked")
	}
}
