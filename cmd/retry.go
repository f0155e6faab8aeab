package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryAdmin string

var retryCmd = &cobra.Command{
	Use:   "retry <request-id>",
	Short: "Requeue a failed request",
	Long:  "Creates a fresh pending request with the same parameters as a failed one. The original stays failed for audit; the new request records its lineage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Queue.Retry(ctx, args[0], retryAdmin)
		if err != nil {
			return err
		}

		fmt.Printf("requeued as %s (retry of %s)\n", truncateID(req.ID), truncateID(req.RetryOf))
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryAdmin, "admin", "", "admin ID for attribution (defaults to the original request's)")
	rootCmd.AddCommand(retryCmd)
}
