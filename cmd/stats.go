package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and pipeline statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		ps, err := e.Stats.PipelineStats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		formatPipelineStats(os.Stdout, ps)
		return nil
	},
}

// -- stats export --

var statsExportOut string

var statsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export statistics to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "admin")
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Stats.ExportXLSX(ctx, statsExportOut); err != nil {
			return eris.Wrap(err, "stats export")
		}

		zap.L().Info("stats exported", zap.String("path", statsExportOut))
		return nil
	},
}

func init() {
	statsExportCmd.Flags().StringVar(&statsExportOut, "out", "catalog-stats.xlsx", "output path for the workbook")
	statsCmd.AddCommand(statsExportCmd)
	rootCmd.AddCommand(statsCmd)
}

// formatPipelineStats writes the aggregate projection to w.
func formatPipelineStats(out io.Writer, ps *model.PipelineStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", ps.Pending)
	_, _ = fmt.Fprintf(w, "Processing:\t%d\n", ps.Processing)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", ps.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", ps.Failed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", ps.Cancelled)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", ps.Total)
	_, _ = fmt.Fprintf(w, "Success rate:\t%.1f%%\n", ps.SuccessRate)
	_, _ = fmt.Fprintf(w, "Avg processing:\t%.1f min\n", ps.AvgProcessingTimeMinutes)
	_, _ = fmt.Fprintf(w, "Pending approvals:\t%d\n", ps.PendingApprovals)
	_, _ = fmt.Fprintf(w, "Total spent:\t$%.2f\n", ps.TotalCostSpent)
	_, _ = fmt.Fprintf(w, "Avg quality gain:\t%.3f\n", ps.AverageQualityImprovement)
	_ = w.Flush()
}
