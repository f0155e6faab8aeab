package stats

import (
	"sync"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/queue"
)

// tally counts lifecycle transitions observed by this process. The durable
// numbers come from the store; this is the live view for a running worker.
type tally struct {
	mu     sync.Mutex
	byDest map[model.RequestStatus]int
}

// ObserveTransition folds a queue lifecycle event into the session tally.
// Registered with Queue.OnTransition.
func (a *Aggregator) ObserveTransition(ev queue.TransitionEvent) {
	a.tally.mu.Lock()
	if a.tally.byDest == nil {
		a.tally.byDest = make(map[model.RequestStatus]int)
	}
	a.tally.byDest[ev.To]++
	a.tally.mu.Unlock()
}

// Observed returns per-status transition counts seen since the process
// started. Pending counts admissions and requeues, not a queue depth.
func (a *Aggregator) Observed() model.QueueStats {
	a.tally.mu.Lock()
	defer a.tally.mu.Unlock()

	qs := model.QueueStats{
		Pending:    a.tally.byDest[model.RequestStatusPending],
		Processing: a.tally.byDest[model.RequestStatusProcessing],
		Completed:  a.tally.byDest[model.RequestStatusCompleted],
		Failed:     a.tally.byDest[model.RequestStatusFailed],
		Cancelled:  a.tally.byDest[model.RequestStatusCancelled],
	}
	qs.Total = qs.Pending + qs.Processing + qs.Completed + qs.Failed + qs.Cancelled
	return qs
}
