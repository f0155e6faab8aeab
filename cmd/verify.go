package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verifyAdmin string
	verifyUnset bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <fragrance-id> <field>",
	Short: "Mark a fragrance field as human-verified",
	Long: `Marks one field of a record as verified. Verified fields only accept
further writes from manual entries; automated enhancement leaves them
alone. Use --unset to lift the mark again.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		verified := !verifyUnset
		if err := e.Store.SetFieldVerified(ctx, args[0], args[1], verified); err != nil {
			return err
		}

		zap.L().Info("field verification set",
			zap.String("fragrance_id", args[0]),
			zap.String("field", args[1]),
			zap.Bool("verified", verified),
			zap.String("admin_id", verifyAdmin),
		)
		if verified {
			fmt.Printf("verified %s on %s\n", args[1], truncateID(args[0]))
		} else {
			fmt.Printf("unverified %s on %s\n", args[1], truncateID(args[0]))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyAdmin, "admin", "", "admin ID for attribution (required)")
	verifyCmd.Flags().BoolVar(&verifyUnset, "unset", false, "remove the verified mark instead")
	_ = verifyCmd.MarkFlagRequired("admin")
	rootCmd.AddCommand(verifyCmd)
}
