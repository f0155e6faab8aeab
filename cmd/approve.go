package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveAdmin string

var approveCmd = &cobra.Command{
	Use:   "approve <change-id> [change-id...]",
	Short: "Apply proposed changes to their records",
	Long:  "Re-validates each change against the current record state before writing. Changes the record has moved past are skipped with a reason; the rest apply.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		outcome, err := e.Approval.Approve(ctx, args, approveAdmin)
		if err != nil {
			return err
		}

		fmt.Printf("applied %d change(s)\n", outcome.Applied)
		for _, sk := range outcome.Skipped {
			fmt.Printf("skipped %s (%s): %s\n", truncateID(sk.ChangeID), sk.Field, sk.Reason)
		}
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveAdmin, "admin", "", "admin ID for attribution (required)")
	_ = approveCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(approveCmd)
}
