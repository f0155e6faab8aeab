package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/scentdex/catalog-cli/internal/store"
)

// ExportXLSX writes a two-sheet workbook: the pipeline snapshot and the most
// recent requests.
func (a *Aggregator) ExportXLSX(ctx context.Context, path string) error {
	ps, err := a.PipelineStats(ctx)
	if err != nil {
		return err
	}
	requests, err := a.store.ListRequests(ctx, store.RequestFilter{Limit: 500})
	if err != nil {
		return err
	}

	f := xlsx.NewFile()

	summary, err := f.AddSheet("Pipeline")
	if err != nil {
		return eris.Wrap(err, "stats: add summary sheet")
	}
	addRow(summary, "Generated", time.Now().UTC().Format(time.RFC3339))
	addRow(summary, "Pending", fmt.Sprintf("%d", ps.Pending))
	addRow(summary, "Processing", fmt.Sprintf("%d", ps.Processing))
	addRow(summary, "Completed", fmt.Sprintf("%d", ps.Completed))
	addRow(summary, "Failed", fmt.Sprintf("%d", ps.Failed))
	addRow(summary, "Cancelled", fmt.Sprintf("%d", ps.Cancelled))
	addRow(summary, "Success rate %", fmt.Sprintf("%.1f", ps.SuccessRate))
	addRow(summary, "Avg processing minutes", fmt.Sprintf("%.2f", ps.AvgProcessingTimeMinutes))
	addRow(summary, "Pending approvals", fmt.Sprintf("%d", ps.PendingApprovals))
	addRow(summary, "Total cost USD", fmt.Sprintf("%.4f", ps.TotalCostSpent))
	addRow(summary, "Avg quality improvement", fmt.Sprintf("%.2f", ps.AverageQualityImprovement))

	sheet, err := f.AddSheet("Requests")
	if err != nil {
		return eris.Wrap(err, "stats: add requests sheet")
	}
	addRow(sheet, "ID", "Fragrance", "Type", "Status", "Priority", "Admin", "Estimated", "Actual", "Applied", "Created")
	for _, req := range requests {
		addRow(sheet,
			req.ID,
			req.FragranceID,
			string(req.Type),
			string(req.Status),
			fmt.Sprintf("%d", req.Priority),
			req.AdminID,
			fmt.Sprintf("%.4f", req.EstimatedCost),
			fmt.Sprintf("%.4f", req.ActualCost),
			fmt.Sprintf("%d", req.AppliedCount),
			req.CreatedAt.Format(time.RFC3339),
		)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "stats: save workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
