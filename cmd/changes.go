package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scentdex/catalog-cli/internal/model"
)

var changesAdmin string

var changesCmd = &cobra.Command{
	Use:   "changes <request-id>",
	Short: "Review the proposed changes of a completed request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		req, changes, err := e.Approval.Changes(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "changes")
		}

		fmt.Printf("request %s  type=%s status=%s changes=%d\n\n",
			truncateID(req.ID), req.Type, req.Status, len(changes))

		if len(changes) == 0 {
			fmt.Fprintln(os.Stderr, "No changes proposed.")
			return nil
		}

		formatChangesList(os.Stdout, changes)
		return nil
	},
}

// -- changes select-all / deselect-all --

var changesSelectAllCmd = &cobra.Command{
	Use:   "select-all <request-id>",
	Short: "Mark every pending valid change as selected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Approval.SelectAll(ctx, args[0], changesAdmin)
		if err != nil {
			return err
		}
		fmt.Printf("selected %d change(s)\n", n)
		return nil
	},
}

var changesDeselectAllCmd = &cobra.Command{
	Use:   "deselect-all <request-id>",
	Short: "Move every selected change back to manual review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Approval.DeselectAll(ctx, args[0], changesAdmin)
		if err != nil {
			return err
		}
		fmt.Printf("deselected %d change(s)\n", n)
		return nil
	},
}

func init() {
	changesCmd.PersistentFlags().StringVar(&changesAdmin, "admin", "", "admin ID for attribution")
	changesCmd.AddCommand(changesSelectAllCmd)
	changesCmd.AddCommand(changesDeselectAllCmd)
	rootCmd.AddCommand(changesCmd)
}

// formatChangesList writes a tabular list of proposed changes to w.
func formatChangesList(out io.Writer, changes []model.EnhancementChange) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFIELD\tTYPE\tCONF\tSOURCE\tSTATE\tNEW_VALUE")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t----\t------\t-----\t---------")

	for _, ch := range changes {
		state := string(ch.ApprovalState)
		if len(ch.ValidationErrors) > 0 {
			state += " (invalid)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			truncateID(ch.ID),
			ch.FieldName,
			ch.ChangeType,
			ch.ConfidenceScore,
			ch.Source,
			state,
			truncateValue(ch.NewValue),
		)
	}
	_ = w.Flush()
}

// truncateValue renders a field value on one table cell.
func truncateValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}
