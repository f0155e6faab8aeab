package approval

import "time"

// ChangesReadyEvent announces that a request finished computing its proposed
// changes and they are waiting for review.
type ChangesReadyEvent struct {
	RequestID    string
	FragranceID  string
	Changes      int
	AutoSelected int
	At           time.Time
}

// OnChangesReady registers fn to run whenever a request's changes become
// reviewable. Handlers run synchronously on the publishing goroutine and
// must not block. Wire handlers up before processing starts.
func (s *Service) OnChangesReady(fn func(ChangesReadyEvent)) {
	s.readyObservers = append(s.readyObservers, fn)
}

// PublishChangesReady announces a completed request. The pipeline calls this
// once the request's changes are persisted and its state is settled.
func (s *Service) PublishChangesReady(ev ChangesReadyEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, fn := range s.readyObservers {
		fn(ev)
	}
}
