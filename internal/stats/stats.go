// Package stats aggregates queue and pipeline health numbers from the store.
package stats

import (
	"context"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

// Aggregator computes statistics snapshots.
type Aggregator struct {
	store store.Store
	tally tally
}

// New creates an Aggregator over the given store.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// QueueStats returns per-status request counts.
func (a *Aggregator) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	counts, err := a.store.RequestCounts(ctx)
	if err != nil {
		return nil, err
	}

	qs := &model.QueueStats{
		Pending:    counts[model.RequestStatusPending],
		Processing: counts[model.RequestStatusProcessing],
		Completed:  counts[model.RequestStatusCompleted],
		Failed:     counts[model.RequestStatusFailed],
		Cancelled:  counts[model.RequestStatusCancelled],
	}
	qs.Total = qs.Pending + qs.Processing + qs.Completed + qs.Failed + qs.Cancelled
	return qs, nil
}

// PipelineStats returns the full pipeline health snapshot.
func (a *Aggregator) PipelineStats(ctx context.Context) (*model.PipelineStats, error) {
	qs, err := a.QueueStats(ctx)
	if err != nil {
		return nil, err
	}

	ps := &model.PipelineStats{QueueStats: *qs}

	// Success rate counts only finished work; cancellations are neither
	// success nor failure.
	if finished := qs.Completed + qs.Failed; finished > 0 {
		ps.SuccessRate = float64(qs.Completed) / float64(finished) * 100
	}

	if ps.AvgProcessingTimeMinutes, err = a.store.AvgProcessingMinutes(ctx); err != nil {
		return nil, err
	}
	if ps.PendingApprovals, err = a.store.PendingApprovalCount(ctx); err != nil {
		return nil, err
	}
	if ps.TotalCostSpent, err = a.store.TotalCostSpent(ctx); err != nil {
		return nil, err
	}
	if ps.AverageQualityImprovement, err = a.store.AvgQualityImprovement(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}
