// Package pipeline runs enhancement requests end to end: claim from the
// queue, fan out to providers through the engine, persist proposed changes,
// and settle the request's terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scentdex/catalog-cli/internal/approval"
	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/engine"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/queue"
	"github.com/scentdex/catalog-cli/internal/store"
)

// Options configures a processing run.
type Options struct {
	// Concurrency is the number of parallel workers. Default 3.
	Concurrency int
	// Limits caps the run's spend and volume.
	Limits cost.Limits
	// IdleExit stops the run after the queue stays empty this long.
	// Zero means exit on the first empty poll.
	IdleExit time.Duration
	// PollInterval is the delay between empty queue polls. Default 2s.
	PollInterval time.Duration
	// StaleAfter is how long a processing request may sit before recovery
	// considers its worker dead. Default 30 minutes.
	StaleAfter time.Duration
	// Notifier, when set, is told after each request completes with its
	// changes persisted and ready for review.
	Notifier ReviewNotifier
}

// ReviewNotifier receives the changes-ready announcement for completed
// requests.
type ReviewNotifier interface {
	PublishChangesReady(approval.ChangesReadyEvent)
}

// Processor drains the enhancement queue.
type Processor struct {
	store  store.Store
	queue  *queue.Queue
	engine *engine.Engine
	opts   Options
}

// RunSummary reports what one processing run did.
type RunSummary struct {
	Processed int     `json:"processed"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Discarded int     `json:"discarded"`
	Spent     float64 `json:"spent"`
}

// New creates a Processor.
func New(st store.Store, q *queue.Queue, eng *engine.Engine, opts Options) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	return &Processor{store: st, queue: q, engine: eng, opts: opts}
}

// Run drains the queue until it is empty (or stays empty for IdleExit), the
// budget runs out, or ctx is cancelled.
func (p *Processor) Run(ctx context.Context) (*RunSummary, error) {
	budget := cost.NewBudget(p.opts.Limits)
	summary := &RunSummary{}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	idleSince := time.Now()
claim:
	for {
		if gctx.Err() != nil {
			break
		}

		req, err := p.queue.DequeueNext(gctx, budget)
		if errors.Is(err, queue.ErrBudgetExhausted) {
			break
		}
		if err != nil {
			g.Wait()
			return summary, err
		}
		if req == nil {
			if time.Since(idleSince) >= p.opts.IdleExit {
				break claim
			}
			select {
			case <-gctx.Done():
				break claim
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}
		idleSince = time.Now()

		g.Go(func() error {
			outcome := p.process(gctx, req, budget)
			mu.Lock()
			summary.Processed++
			switch outcome.state {
			case model.RequestStatusCompleted:
				summary.Succeeded++
			case model.RequestStatusFailed:
				summary.Failed++
			case model.RequestStatusCancelled:
				summary.Discarded++
			}
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	summary.Spent = budget.Spent()
	return summary, err
}

type processOutcome struct {
	state model.RequestStatus
}

// process runs one claimed request to a terminal state. The request is
// already in processing when it arrives here.
func (p *Processor) process(ctx context.Context, req *model.EnhancementRequest, budget *cost.Budget) processOutcome {
	defer p.queue.Release(req.FragranceID)

	log := zap.L().With(
		zap.String("request_id", req.ID),
		zap.String("fragrance_id", req.FragranceID),
		zap.String("type", string(req.Type)),
	)

	rec, err := p.store.GetFragrance(ctx, req.FragranceID)
	if err != nil {
		p.settleFailure(ctx, req, budget, 0, err)
		return processOutcome{state: model.RequestStatusFailed}
	}

	res, err := p.engine.Enhance(ctx, rec, req)
	if err != nil {
		p.settleFailure(ctx, req, budget, 0, err)
		return processOutcome{state: model.RequestStatusFailed}
	}

	// An admin may have cancelled while providers were running. Cancelled
	// requests discard their results.
	fresh, err := p.store.GetRequest(ctx, req.ID)
	if err == nil && fresh.Status == model.RequestStatusCancelled {
		budget.Settle(req.EstimatedCost, res.Cost)
		log.Info("request cancelled mid-flight, discarding results",
			zap.Int("discarded_changes", len(res.Changes)))
		return processOutcome{state: model.RequestStatusCancelled}
	}

	if err := p.store.CreateChanges(ctx, res.Changes); err != nil {
		p.settleFailure(ctx, req, budget, res.Cost, err)
		return processOutcome{state: model.RequestStatusFailed}
	}

	notes := processingNotes(res)
	if err := p.queue.MarkCompleted(ctx, req.ID, res.Cost, notes); err != nil {
		// Lost the terminal race, most likely to a cancellation.
		budget.Settle(req.EstimatedCost, res.Cost)
		log.Warn("could not complete request", zap.Error(err))
		return processOutcome{state: model.RequestStatusCancelled}
	}

	budget.Settle(req.EstimatedCost, res.Cost)
	if p.opts.Notifier != nil {
		auto := 0
		for _, ch := range res.Changes {
			if ch.ApprovalState == model.ApprovalAutoSelected {
				auto++
			}
		}
		p.opts.Notifier.PublishChangesReady(approval.ChangesReadyEvent{
			RequestID:    req.ID,
			FragranceID:  req.FragranceID,
			Changes:      len(res.Changes),
			AutoSelected: auto,
		})
	}
	log.Info("request completed",
		zap.Int("changes", len(res.Changes)),
		zap.Float64("cost", res.Cost),
	)
	return processOutcome{state: model.RequestStatusCompleted}
}

func (p *Processor) settleFailure(ctx context.Context, req *model.EnhancementRequest, budget *cost.Budget, spent float64, cause error) {
	budget.Settle(req.EstimatedCost, spent)
	if err := p.queue.MarkFailed(ctx, req.ID, cause.Error(), spent); err != nil {
		zap.L().Warn("could not fail request",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return
	}
	zap.L().Warn("request failed",
		zap.String("request_id", req.ID),
		zap.Error(cause),
	)
}

func processingNotes(res *engine.Result) string {
	if len(res.SourceErrors) == 0 {
		return ""
	}
	return fmt.Sprintf("degraded: %d source(s) failed", len(res.SourceErrors))
}

// Recover requeues requests stuck in processing longer than StaleAfter,
// typically after a crashed worker. Recovered requests go back to pending
// untouched; any changes they managed to write stay attached.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-p.opts.StaleAfter)
	stale, err := p.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, req := range stale {
		ok, err := p.queue.Requeue(ctx, req.ID)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
			zap.L().Info("recovered stale request",
				zap.String("request_id", req.ID),
				zap.Timep("started_at", req.StartedAt),
			)
		}
	}
	return recovered, nil
}
