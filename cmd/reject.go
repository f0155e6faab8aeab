package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	rejectAdmin  string
	rejectReason string
)

var rejectCmd = &cobra.Command{
	Use:   "reject <change-id> [change-id...]",
	Short: "Decline proposed changes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Approval.Reject(ctx, args, rejectAdmin, rejectReason); err != nil {
			return err
		}

		fmt.Printf("rejected %d change(s)\n", len(args))
		return nil
	},
}

func init() {
	rejectCmd.Flags().StringVar(&rejectAdmin, "admin", "", "admin ID for attribution (required)")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the changes were declined")
	_ = rejectCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(rejectCmd)
}
