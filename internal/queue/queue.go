// Package queue manages the lifecycle of enhancement requests: admission,
// status transitions, retries, and bulk smart jobs.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

// ErrBudgetExhausted is returned by DequeueNext when the batch budget cannot
// cover the next pending request.
var ErrBudgetExhausted = eris.New("queue: batch budget exhausted")

// InvalidStateTransitionError reports an attempted transition the lifecycle
// state machine forbids, or one that lost a race with a concurrent transition.
type InvalidStateTransitionError struct {
	RequestID string
	From      model.RequestStatus
	To        model.RequestStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("request %s: invalid transition %s -> %s", e.RequestID, e.From, e.To)
}

// Queue coordinates enhancement request admission and lifecycle.
type Queue struct {
	store     store.Store
	estimator *cost.Estimator

	mu       sync.Mutex
	inFlight map[string]bool // fragrance IDs currently being processed

	observers []func(TransitionEvent)
}

// New creates a Queue over the given store.
func New(st store.Store, estimator *cost.Estimator) *Queue {
	return &Queue{
		store:     st,
		estimator: estimator,
		inFlight:  make(map[string]bool),
	}
}

// EnqueueParams are the caller-supplied parts of a new request.
type EnqueueParams struct {
	FragranceID         string
	Type                model.RequestType
	Priority            int
	ConfidenceThreshold float64
	AdminID             string
	ProcessingNotes     string
}

// Enqueue validates and admits a new enhancement request in pending state.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*model.EnhancementRequest, error) {
	if p.AdminID == "" {
		return nil, eris.New("queue: admin id is required")
	}
	if !model.ValidRequestType(p.Type) {
		return nil, eris.Errorf("queue: invalid request type %q", p.Type)
	}
	if p.Type == model.RequestTypeManual {
		return nil, eris.New("queue: manual changes are recorded directly, not queued")
	}
	if _, err := q.store.GetFragrance(ctx, p.FragranceID); err != nil {
		return nil, err
	}

	priority := p.Priority
	if priority == 0 {
		priority = model.PriorityDefault
	}
	if priority < model.PriorityHighest || priority > model.PriorityLowest {
		return nil, eris.Errorf("queue: priority %d outside [%d, %d]", priority, model.PriorityHighest, model.PriorityLowest)
	}

	threshold := p.ConfidenceThreshold
	if threshold == 0 {
		threshold = model.DefaultConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, eris.Errorf("queue: confidence threshold %.2f outside [0, 1]", threshold)
	}

	req := &model.EnhancementRequest{
		FragranceID:         p.FragranceID,
		Type:                p.Type,
		Priority:            priority,
		ConfidenceThreshold: threshold,
		Status:              model.RequestStatusPending,
		AdminID:             p.AdminID,
		ProcessingNotes:     p.ProcessingNotes,
		EstimatedCost:       q.estimator.Estimate(p.Type),
	}
	if err := q.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	q.emit(req.ID, "", model.RequestStatusPending)
	zap.L().Info("request enqueued",
		zap.String("request_id", req.ID),
		zap.String("fragrance_id", req.FragranceID),
		zap.String("type", string(req.Type)),
		zap.Int("priority", req.Priority),
		zap.Float64("estimated_cost", req.EstimatedCost),
	)
	return req, nil
}

// DequeueNext claims the next pending request that fits the budget and whose
// fragrance is not already being processed by this instance. Returns nil when
// nothing is claimable right now.
func (q *Queue) DequeueNext(ctx context.Context, budget *cost.Budget) (*model.EnhancementRequest, error) {
	pending, err := q.store.ListPending(ctx, 50)
	if err != nil {
		return nil, err
	}

	for i := range pending {
		req := &pending[i]

		q.mu.Lock()
		busy := q.inFlight[req.FragranceID]
		if !busy {
			q.inFlight[req.FragranceID] = true
		}
		q.mu.Unlock()
		if busy {
			continue
		}

		if budget != nil && !budget.TryReserve(req.EstimatedCost) {
			q.release(req.FragranceID)
			zap.L().Info("budget exhausted, leaving request queued",
				zap.String("request_id", req.ID))
			return nil, ErrBudgetExhausted
		}

		ok, err := q.markProcessing(ctx, req)
		if err != nil {
			q.release(req.FragranceID)
			if budget != nil {
				budget.Unreserve(req.EstimatedCost)
			}
			return nil, err
		}
		if !ok {
			// Another worker claimed it first.
			q.release(req.FragranceID)
			if budget != nil {
				budget.Unreserve(req.EstimatedCost)
			}
			continue
		}
		return req, nil
	}
	return nil, nil
}

// Release returns a fragrance to the claimable set. Callers must invoke it
// once processing of a dequeued request finishes, whatever the outcome.
func (q *Queue) Release(fragranceID string) {
	q.release(fragranceID)
}

func (q *Queue) release(fragranceID string) {
	q.mu.Lock()
	delete(q.inFlight, fragranceID)
	q.mu.Unlock()
}

func (q *Queue) markProcessing(ctx context.Context, req *model.EnhancementRequest) (bool, error) {
	rec, err := q.store.GetFragrance(ctx, req.FragranceID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	before := rec.CompletenessScore
	ok, err := q.store.TransitionRequest(ctx, req.ID,
		model.RequestStatusPending, model.RequestStatusProcessing,
		store.RequestUpdate{StartedAt: &now, CompletenessBefore: &before})
	if err != nil {
		return false, err
	}
	if ok {
		req.Status = model.RequestStatusProcessing
		req.StartedAt = &now
		req.CompletenessBefore = &before
		q.emit(req.ID, model.RequestStatusPending, model.RequestStatusProcessing)
	}
	return ok, nil
}

// MarkCompleted transitions a processing request to completed.
func (q *Queue) MarkCompleted(ctx context.Context, id string, actualCost float64, notes string) error {
	now := time.Now().UTC()
	upd := store.RequestUpdate{CompletedAt: &now, ActualCost: &actualCost}
	if notes != "" {
		upd.ProcessingNotes = &notes
	}
	return q.transition(ctx, id, model.RequestStatusProcessing, model.RequestStatusCompleted, upd)
}

// MarkFailed transitions a processing request to failed, recording the error.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string, actualCost float64) error {
	now := time.Now().UTC()
	return q.transition(ctx, id, model.RequestStatusProcessing, model.RequestStatusFailed,
		store.RequestUpdate{CompletedAt: &now, ErrorMessage: &errMsg, ActualCost: &actualCost})
}

// Cancel moves a pending or processing request to cancelled, recording who
// asked and why in the processing notes. A request cancelled mid-processing
// keeps running but its results are discarded.
func (q *Queue) Cancel(ctx context.Context, id, adminID, reason string) (*model.EnhancementRequest, error) {
	if adminID == "" {
		return nil, eris.New("queue: admin id is required")
	}

	req, err := q.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(req.Status, model.RequestStatusCancelled) {
		return nil, &InvalidStateTransitionError{RequestID: id, From: req.Status, To: model.RequestStatusCancelled}
	}

	notes := "cancelled by " + adminID
	if reason != "" {
		notes += ": " + reason
	}

	now := time.Now().UTC()
	ok, err := q.store.TransitionRequest(ctx, id, req.Status, model.RequestStatusCancelled,
		store.RequestUpdate{CompletedAt: &now, ProcessingNotes: &notes})
	if err != nil {
		return nil, err
	}
	if !ok {
		// The request moved between the read and the write.
		fresh, ferr := q.store.GetRequest(ctx, id)
		if ferr == nil {
			req = fresh
		}
		return nil, &InvalidStateTransitionError{RequestID: id, From: req.Status, To: model.RequestStatusCancelled}
	}

	q.emit(id, req.Status, model.RequestStatusCancelled)
	req.Status = model.RequestStatusCancelled
	req.CompletedAt = &now
	req.ProcessingNotes = notes
	zap.L().Info("request cancelled",
		zap.String("request_id", id),
		zap.String("admin_id", adminID),
		zap.String("reason", reason),
	)
	return req, nil
}

// Retry creates a fresh pending request from a failed one. The original
// stays failed; the new request records its lineage in RetryOf.
func (q *Queue) Retry(ctx context.Context, id, adminID string) (*model.EnhancementRequest, error) {
	orig, err := q.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != model.RequestStatusFailed {
		return nil, &InvalidStateTransitionError{RequestID: id, From: orig.Status, To: model.RequestStatusPending}
	}
	if adminID == "" {
		adminID = orig.AdminID
	}

	req := &model.EnhancementRequest{
		FragranceID:         orig.FragranceID,
		Type:                orig.Type,
		Priority:            orig.Priority,
		ConfidenceThreshold: orig.ConfidenceThreshold,
		Status:              model.RequestStatusPending,
		AdminID:             adminID,
		EstimatedCost:       q.estimator.Estimate(orig.Type),
		RetryOf:             orig.ID,
	}
	if err := q.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	q.emit(req.ID, "", model.RequestStatusPending)
	zap.L().Info("request retried",
		zap.String("request_id", req.ID),
		zap.String("retry_of", orig.ID),
	)
	return req, nil
}

// Requeue returns a stuck processing request to pending. Recovery after a
// crashed worker goes through here so the transition is observable like any
// other. Returns false when the request moved in the meantime.
func (q *Queue) Requeue(ctx context.Context, id string) (bool, error) {
	ok, err := q.store.TransitionRequest(ctx, id,
		model.RequestStatusProcessing, model.RequestStatusPending, store.RequestUpdate{})
	if err != nil {
		return false, err
	}
	if ok {
		q.emit(id, model.RequestStatusProcessing, model.RequestStatusPending)
	}
	return ok, nil
}

func (q *Queue) transition(ctx context.Context, id string, from, to model.RequestStatus, upd store.RequestUpdate) error {
	ok, err := q.store.TransitionRequest(ctx, id, from, to, upd)
	if err != nil {
		return err
	}
	if !ok {
		req, gerr := q.store.GetRequest(ctx, id)
		if gerr != nil {
			return gerr
		}
		return &InvalidStateTransitionError{RequestID: id, From: req.Status, To: to}
	}
	q.emit(id, from, to)
	return nil
}
