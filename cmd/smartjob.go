package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/queue"
)

var (
	smartJobMaxItems   int
	smartJobMaxPerItem float64
	smartJobThreshold  float64
	smartJobAdmin      string
)

var smartJobCmd = &cobra.Command{
	Use:   "smartjob <level>",
	Short: "Bulk-queue enhancements for records matching a priority level",
	Long:  "Selects candidate fragrances for a priority level (low_quality, missing_data, unverified, outdated_pricing) and queues an enhancement request for each, skipping records that already have one in flight.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Queue.EnqueueSmartJob(ctx, queue.SmartJobParams{
			Level:               model.PriorityLevel(args[0]),
			MaxItems:            smartJobMaxItems,
			MaxCostPerItem:      smartJobMaxPerItem,
			ConfidenceThreshold: smartJobThreshold,
			AdminID:             smartJobAdmin,
		})
		if err != nil {
			return err
		}

		fmt.Printf("level=%s selected=%d enqueued=%d skipped_active=%d skipped_over_budget=%d estimated_total=$%.3f\n",
			res.Level, res.Selected, len(res.Enqueued), res.SkippedActive, res.SkippedOverBudget, res.TotalEstimatedCost)
		return nil
	},
}

func init() {
	smartJobCmd.Flags().IntVar(&smartJobMaxItems, "max-items", 0, "cap on selected records (default 50)")
	smartJobCmd.Flags().Float64Var(&smartJobMaxPerItem, "max-cost-per-item", 0, "skip records estimated above this cost")
	smartJobCmd.Flags().Float64Var(&smartJobThreshold, "threshold", 0, "auto-select confidence threshold (default 0.8)")
	smartJobCmd.Flags().StringVar(&smartJobAdmin, "admin", "", "admin ID for attribution (required)")
	_ = smartJobCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(smartJobCmd)
}
