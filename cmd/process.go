package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/pipeline"
)

var (
	processRecover     bool
	processMaxItems    int
	processMaxPerItem  float64
	processMaxTotal    float64
	processConcurrency int
	processIdleExit    time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Drain the enhancement queue",
	Long:  "Claims pending requests in priority order, runs the configured sources against each record, and persists proposed changes for review. Exits when the queue is empty or the batch budget runs out.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer e.Close()

		limits := cost.Limits{
			MaxItems:       cfg.Pipeline.MaxItems,
			MaxCostPerItem: cfg.Pipeline.MaxCostPerItem,
			MaxTotalCost:   cfg.Pipeline.MaxTotalCost,
		}
		if processMaxItems > 0 {
			limits.MaxItems = processMaxItems
		}
		if processMaxPerItem > 0 {
			limits.MaxCostPerItem = processMaxPerItem
		}
		if processMaxTotal > 0 {
			limits.MaxTotalCost = processMaxTotal
		}

		concurrency := cfg.Pipeline.Concurrency
		if processConcurrency > 0 {
			concurrency = processConcurrency
		}

		proc := pipeline.New(e.Store, e.Queue, e.Engine, pipeline.Options{
			Concurrency: concurrency,
			Limits:      limits,
			IdleExit:    processIdleExit,
			StaleAfter:  time.Duration(cfg.Pipeline.StaleAfterMins) * time.Minute,
			Notifier:    e.Approval,
		})

		if processRecover {
			n, err := proc.Recover(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("stale requests requeued", zap.Int("recovered", n))
		}

		summary, err := proc.Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("processing run complete",
			zap.Int("processed", summary.Processed),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("discarded", summary.Discarded),
			zap.Float64("spent", summary.Spent),
			zap.Int("transitions_observed", e.Stats.Observed().Total),
		)
		return nil
	},
}

func init() {
	processCmd.Flags().BoolVar(&processRecover, "recover", false, "requeue requests stuck in processing before draining")
	processCmd.Flags().IntVar(&processMaxItems, "max-items", 0, "cap on requests this run (default from config)")
	processCmd.Flags().Float64Var(&processMaxPerItem, "max-cost-per-item", 0, "skip requests estimated above this cost")
	processCmd.Flags().Float64Var(&processMaxTotal, "max-total-cost", 0, "total spend cap for this run")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0, "parallel workers (default from config)")
	processCmd.Flags().DurationVar(&processIdleExit, "idle-exit", 0, "keep polling an empty queue this long before exiting")
	rootCmd.AddCommand(processCmd)
}
