package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers such as the reservation balance sweeper and the event log worker.`,
}

// Reconciliation sweeper command
var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-derive reservation balances",
	Long:  `Recompute remaining balance and payment status for every reservation, once or on an interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

// Event Bus worker command
var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start event bus worker",
	Long:  `Start the event bus with the lifecycle log subscribers attached`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	sweepInterval    time.Duration
	sweepConcurrency int
	sweepBatchSize   int
)

func startReconcileWorker() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	events.RegisterLogSubscribers(app.Bus, logger)

	// Use command line flags if provided, otherwise use config values
	interval := getDurationFlag(sweepInterval, cfg.Reconciliation.SweepInterval)
	sweeper := reconciliation.NewSweeper(
		app.Reconciliation,
		getIntFlag(sweepConcurrency, cfg.Reconciliation.SweepConcurrency),
		getIntFlag(sweepBatchSize, cfg.Reconciliation.SweepBatchSize),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval <= 0 {
		logger.Info("running a single reconciliation sweep")
		summary, err := sweeper.Run(ctx)
		closeApp(app)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		if summary.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	logger.Info("reconciliation worker is running. Press Ctrl+C to stop.", "interval", interval.String())
	_ = sweeper.RunEvery(ctx, interval)

	logger.Info("received signal, shutting down reconciliation worker")
	closeApp(app)
}

func startEventWorker() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger

	events.RegisterLogSubscribers(app.Bus, logger)
	logger.Info("event bus worker started. Waiting for events...", "event_types", events.LifecycleEventTypes)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received signal, shutting down event bus", "signal", sig)
	closeApp(app)
	logger.Info("event bus shutdown complete")
}

func closeApp(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.Close(ctx)
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval; zero runs once (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 0, "Reservations reconciled in parallel (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Reservations listed per batch (overrides config)")

	workerCmd.AddCommand(reconcileWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
