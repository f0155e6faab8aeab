package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect enhancement requests",
}

// -- requests list --

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enhancement requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		status, _ := cmd.Flags().GetString("status")
		fragrance, _ := cmd.Flags().GetString("fragrance")
		limit, _ := cmd.Flags().GetInt("limit")

		reqs, err := e.Store.ListRequests(ctx, store.RequestFilter{
			Status:      model.RequestStatus(status),
			FragranceID: fragrance,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "requests list")
		}

		if len(reqs) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}

		formatRequestsList(os.Stdout, reqs)
		return nil
	},
}

// -- requests show --

var requestsShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show full details of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Store.GetRequest(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "requests show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	},
}

func init() {
	requestsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed, cancelled)")
	requestsListCmd.Flags().String("fragrance", "", "filter by fragrance ID")
	requestsListCmd.Flags().Int("limit", 50, "max number of requests to display")

	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	rootCmd.AddCommand(requestsCmd)
}

// formatRequestsList writes a tabular list of requests to w.
func formatRequestsList(out io.Writer, reqs []model.EnhancementRequest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFRAGRANCE\tTYPE\tPRI\tSTATUS\tEST_COST\tACT_COST\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---------\t----\t---\t------\t--------\t--------\t-------")

	for _, r := range reqs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t$%.3f\t$%.3f\t%s\n",
			truncateID(r.ID),
			truncateID(r.FragranceID),
			r.Type,
			r.Priority,
			r.Status,
			r.EstimatedCost,
			r.ActualCost,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
