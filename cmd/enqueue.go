package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/queue"
)

var (
	enqueueType      string
	enqueuePriority  int
	enqueueThreshold float64
	enqueueAdmin     string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <fragrance-id>",
	Short: "Queue an enhancement request for one fragrance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Queue.Enqueue(ctx, queue.EnqueueParams{
			FragranceID:         args[0],
			Type:                model.RequestType(enqueueType),
			Priority:            enqueuePriority,
			ConfidenceThreshold: enqueueThreshold,
			AdminID:             enqueueAdmin,
		})
		if err != nil {
			return err
		}

		fmt.Printf("queued %s  type=%s priority=%d estimated_cost=$%.3f\n",
			req.ID, req.Type, req.Priority, req.EstimatedCost)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueType, "type", "hybrid", "request type (ai_analysis, web_scrape, hybrid, manual)")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "priority 1 (most urgent) to 10 (default 5)")
	enqueueCmd.Flags().Float64Var(&enqueueThreshold, "threshold", 0, "auto-select confidence threshold (default 0.8)")
	enqueueCmd.Flags().StringVar(&enqueueAdmin, "admin", "", "admin ID for attribution (required)")
	_ = enqueueCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(enqueueCmd)
}
