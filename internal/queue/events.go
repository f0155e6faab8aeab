package queue

import (
	"time"

	"github.com/scentdex/catalog-cli/internal/model"
)

// TransitionEvent records one lifecycle status change of a request. Admission
// events carry an empty From.
type TransitionEvent struct {
	RequestID string
	From      model.RequestStatus
	To        model.RequestStatus
	At        time.Time
}

// OnTransition registers fn to run after every successful status change.
// Handlers run synchronously on the transitioning goroutine and must not
// block. Registration is not safe concurrently with queue operations; wire
// handlers up before the queue starts serving.
func (q *Queue) OnTransition(fn func(TransitionEvent)) {
	q.observers = append(q.observers, fn)
}

func (q *Queue) emit(requestID string, from, to model.RequestStatus) {
	if len(q.observers) == 0 {
		return
	}
	ev := TransitionEvent{
		RequestID: requestID,
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
	}
	for _, fn := range q.observers {
		fn(ev)
	}
}
