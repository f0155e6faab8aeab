package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scentdex/catalog-cli/internal/approval"
)

var (
	manualAdmin     string
	manualNotes     string
	manualSourceURL string
	manualSets      []string
)

var manualCmd = &cobra.Command{
	Use:   "manual <fragrance-id>",
	Short: "Record admin-supplied field values as reviewable changes",
	Long: `Records hand-entered values for one fragrance. Each --set takes a
field=value pair; list fields (top_notes, middle_notes, base_notes,
main_accords) accept comma-separated values. The entry shows up in the
review flow like any completed request.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fields := make(map[string]any, len(manualSets))
		for _, set := range manualSets {
			field, value, ok := strings.Cut(set, "=")
			if !ok {
				return eris.Errorf("--set %q is not field=value", set)
			}
			fields[strings.TrimSpace(field)] = value
		}

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Approval.RecordManual(ctx, approval.ManualEntry{
			FragranceID: args[0],
			AdminID:     manualAdmin,
			Notes:       manualNotes,
			SourceURL:   manualSourceURL,
			Fields:      fields,
		})
		if err != nil {
			return err
		}

		fmt.Printf("recorded %s  changes=%d\n", truncateID(res.Request.ID), len(res.Changes))
		for _, ch := range res.Changes {
			fmt.Printf("  %-16s %v -> %v\n", ch.FieldName, ch.OldValue, ch.NewValue)
		}
		for _, sk := range res.Skipped {
			fmt.Printf("  %-16s skipped: %s\n", sk.Field, sk.Reason)
		}
		return nil
	},
}

func init() {
	manualCmd.Flags().StringArrayVar(&manualSets, "set", nil, "field=value pair (repeatable)")
	manualCmd.Flags().StringVar(&manualAdmin, "admin", "", "admin ID for attribution (required)")
	manualCmd.Flags().StringVar(&manualNotes, "notes", "", "notes attached to the entry")
	manualCmd.Flags().StringVar(&manualSourceURL, "source-url", "", "where the values came from")
	_ = manualCmd.MarkFlagRequired("admin")
	_ = manualCmd.MarkFlagRequired("set")
	rootCmd.AddCommand(manualCmd)
}
