package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cancelAdmin  string
	cancelReason string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending or processing request",
	Long:  "Cancels a request that has not yet finished. A request already being worked on keeps running but its results are discarded.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Queue.Cancel(ctx, args[0], cancelAdmin, cancelReason)
		if err != nil {
			return err
		}

		fmt.Printf("cancelled %s\n", truncateID(req.ID))
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelAdmin, "admin", "", "admin ID for attribution (required)")
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "why the request is being cancelled")
	_ = cancelCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(cancelCmd)
}
