package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fintrack/internal/config"
	"fintrack/internal/database"
	"fintrack/internal/events"
	"fintrack/internal/logger"
	"fintrack/internal/reconciler"

	"github.com/spf13/cobra"
)

var flagConcurrency int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute total spent and notifications for every budget",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "Parallel workers (defaults to RECONCILE_CONCURRENCY)")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(_ *cobra.Command, _ []string) error {
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dbManager, err := database.NewManager(cfg)
	if err != nil {
		return err
	}
	defer dbManager.Close()

	publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Warnw("AMQP unavailable, budget events will not be published", "error", err)
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	concurrency := cfg.ReconcileConcurrency
	if flagConcurrency > 0 {
		concurrency = flagConcurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	n, err := reconciler.NewService(dbManager.DB(), publisher).ReconcileAll(ctx, concurrency)
	if err != nil {
		return fmt.Errorf("reconcile failed after %d key(s) committed: %w", n, err)
	}

	log.Infow("reconciled budgets", "keys", n, "duration", time.Since(start).String())
	return nil
}
