package queue

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

// smartJobPlan maps a priority level to the request type and priority its
// requests are created with. Outdated pricing only needs the scrape source;
// everything else benefits from both.
var smartJobPlan = map[model.PriorityLevel]struct {
	reqType  model.RequestType
	priority int
}{
	model.PriorityLowQuality:      {model.RequestTypeHybrid, 2},
	model.PriorityMissingData:     {model.RequestTypeHybrid, 3},
	model.PriorityUnverified:      {model.RequestTypeHybrid, 4},
	model.PriorityOutdatedPricing: {model.RequestTypeWebScrape, 5},
}

// SmartJobParams configures a bulk enhancement job.
type SmartJobParams struct {
	Level               model.PriorityLevel
	MaxItems            int
	MaxCostPerItem      float64
	ConfidenceThreshold float64
	AdminID             string
}

// SmartJobResult summarizes what a smart job enqueued.
type SmartJobResult struct {
	Level              model.PriorityLevel        `json:"level"`
	Selected           int                        `json:"selected"`
	Enqueued           []model.EnhancementRequest `json:"enqueued"`
	SkippedActive      int                        `json:"skipped_active"`
	SkippedOverBudget  int                        `json:"skipped_over_budget"`
	TotalEstimatedCost float64                    `json:"total_estimated_cost"`
}

// EnqueueSmartJob selects candidate fragrances for the given priority level
// and enqueues an enhancement request for each, skipping fragrances that
// already have an active request.
func (q *Queue) EnqueueSmartJob(ctx context.Context, p SmartJobParams) (*SmartJobResult, error) {
	if p.AdminID == "" {
		return nil, eris.New("queue: admin id is required")
	}
	if !model.ValidPriorityLevel(p.Level) {
		return nil, eris.Errorf("queue: unknown priority level %q", p.Level)
	}
	plan := smartJobPlan[p.Level]

	maxItems := p.MaxItems
	if maxItems <= 0 {
		maxItems = cost.DefaultMaxItems
	}

	candidates, err := q.store.SelectCandidates(ctx, p.Level, maxItems)
	if err != nil {
		return nil, err
	}

	estimate := q.estimator.Estimate(plan.reqType)
	res := &SmartJobResult{Level: p.Level, Selected: len(candidates)}

	for i := range candidates {
		rec := &candidates[i]

		if p.MaxCostPerItem > 0 && estimate > p.MaxCostPerItem {
			res.SkippedOverBudget++
			continue
		}

		active, err := q.hasActiveRequest(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if active {
			res.SkippedActive++
			continue
		}

		req, err := q.Enqueue(ctx, EnqueueParams{
			FragranceID:         rec.ID,
			Type:                plan.reqType,
			Priority:            plan.priority,
			ConfidenceThreshold: p.ConfidenceThreshold,
			AdminID:             p.AdminID,
			ProcessingNotes:     "smart job: " + string(p.Level),
		})
		if err != nil {
			return nil, err
		}
		res.Enqueued = append(res.Enqueued, *req)
		res.TotalEstimatedCost += req.EstimatedCost
	}

	zap.L().Info("smart job enqueued",
		zap.String("level", string(p.Level)),
		zap.Int("selected", res.Selected),
		zap.Int("enqueued", len(res.Enqueued)),
		zap.Int("skipped_active", res.SkippedActive),
		zap.Float64("total_estimated_cost", res.TotalEstimatedCost),
	)
	return res, nil
}

func (q *Queue) hasActiveRequest(ctx context.Context, fragranceID string) (bool, error) {
	for _, status := range []model.RequestStatus{model.RequestStatusPending, model.RequestStatusProcessing} {
		reqs, err := q.store.ListRequests(ctx, store.RequestFilter{
			FragranceID: fragranceID,
			Status:      status,
			Limit:       1,
		})
		if err != nil {
			return false, err
		}
		if len(reqs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
