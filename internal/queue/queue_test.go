package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.SQLiteStore) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	st, err := store.NewSQLite(dsn, merge.DefaultRules())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	return New(st, cost.NewEstimator(cost.DefaultRates())), st
}

func seedFragrance(t *testing.T, st *store.SQLiteStore, key string) string {
	t.Helper()
	res, err := st.Upsert(context.Background(), store.UpsertInput{
		ExternalKey: key,
		Name:        "Fragrance " + key,
		Brand:       "Brand",
		RequestType: model.RequestTypeManual,
	})
	require.NoError(t, err)
	return res.RecordID
}

func TestEnqueue_Defaults(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	fragID := seedFragrance(t, st, "a")

	req, err := q.Enqueue(ctx, EnqueueParams{
		FragranceID: fragID,
		Type:        model.RequestTypeHybrid,
		AdminID:     "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.Equal(t, model.PriorityDefault, req.Priority)
	assert.InDelta(t, model.DefaultConfidenceThreshold, req.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.025, req.EstimatedCost, 1e-9, "hybrid = ai + scrape rates")
}

func TestEnqueue_Validation(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	fragID := seedFragrance(t, st, "a")

	_, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid})
	assert.Error(t, err, "missing admin id")

	_, err = q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: "guesswork", AdminID: "admin-1"})
	assert.Error(t, err, "invalid type")

	_, err = q.Enqueue(ctx, EnqueueParams{FragranceID: "ghost", Type: model.RequestTypeHybrid, AdminID: "admin-1"})
	assert.True(t, store.IsNotFound(err), "unknown fragrance")

	_, err = q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1", Priority: 11})
	assert.Error(t, err, "priority out of range")

	_, err = q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1", ConfidenceThreshold: 1.5})
	assert.Error(t, err, "threshold out of range")
}

func TestEnqueue_ManualNotQueueable(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	fragID := seedFragrance(t, st, "a")

	_, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeManual, AdminID: "admin-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorded directly")

	// Nothing was admitted for a worker to pick up.
	next, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestDequeueNext_ClaimsInOrder(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragA := seedFragrance(t, st, "a")
	fragB := seedFragrance(t, st, "b")

	low, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragA, Type: model.RequestTypeHybrid, AdminID: "admin-1", Priority: 7})
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragB, Type: model.RequestTypeHybrid, AdminID: "admin-1", Priority: 2})
	require.NoError(t, err)

	first, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, model.RequestStatusProcessing, first.Status)
	require.NotNil(t, first.CompletenessBefore)

	second, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)

	third, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestDequeueNext_SkipsInFlightFragrance(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragID := seedFragrance(t, st, "a")
	first, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1", Priority: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1", Priority: 2})
	require.NoError(t, err)

	got, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	// Same fragrance is busy, the second request stays queued.
	blocked, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	q.Release(fragID)
	next, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
}

func TestDequeueNext_BudgetStopsClaims(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		fragID := seedFragrance(t, st, key)
		_, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1"})
		require.NoError(t, err)
	}

	budget := cost.NewBudget(cost.Limits{MaxItems: 2})
	var claimed int
	for {
		req, err := q.DequeueNext(ctx, budget)
		if err != nil {
			require.ErrorIs(t, err, ErrBudgetExhausted)
			break
		}
		require.NotNil(t, req)
		claimed++
	}
	assert.Equal(t, 2, claimed)
}

func TestLifecycle_CompleteAndFail(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragID := seedFragrance(t, st, "a")
	req, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1"})
	require.NoError(t, err)

	claimed, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.MarkCompleted(ctx, req.ID, 0.03, "2 changes proposed"))
	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, got.Status)
	assert.InDelta(t, 0.03, got.ActualCost, 1e-9)
	require.NotNil(t, got.CompletedAt)

	// Terminal state rejects further transitions.
	err = q.MarkFailed(ctx, req.ID, "late failure", 0)
	var invalid *InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.RequestStatusCompleted, invalid.From)
}

func TestCancel_PendingAndTerminal(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragID := seedFragrance(t, st, "a")
	req, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeHybrid, AdminID: "admin-1"})
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, req.ID, "admin-2", "duplicate entry")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by admin-2: duplicate entry", cancelled.ProcessingNotes)

	// Attribution survives in the stored request, not just the return value.
	stored, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by admin-2: duplicate entry", stored.ProcessingNotes)

	_, err = q.Cancel(ctx, req.ID, "admin-2", "")
	var invalid *InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = q.Cancel(ctx, "ghost", "admin-2", "")
	assert.True(t, store.IsNotFound(err))

	_, err = q.Cancel(ctx, req.ID, "", "")
	assert.Error(t, err, "missing admin id")
}

func TestRetry_OnlyFromFailed(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragID := seedFragrance(t, st, "a")
	req, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragID, Type: model.RequestTypeWebScrape, AdminID: "admin-1"})
	require.NoError(t, err)

	_, err = q.Retry(ctx, req.ID, "admin-2")
	var invalid *InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid, "pending requests cannot be retried")

	claimed, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.MarkFailed(ctx, req.ID, "source unavailable", 0.005))
	q.Release(fragID)

	retried, err := q.Retry(ctx, req.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, retried.Status)
	assert.Equal(t, req.ID, retried.RetryOf)
	assert.Equal(t, "admin-2", retried.AdminID)
	assert.Equal(t, req.Type, retried.Type)

	// Original stays failed.
	orig, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, orig.Status)
}

func TestEnqueueSmartJob(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	fragA := seedFragrance(t, st, "a")
	fragB := seedFragrance(t, st, "b")

	// fragB already has an active request and must be skipped.
	_, err := q.Enqueue(ctx, EnqueueParams{FragranceID: fragB, Type: model.RequestTypeHybrid, AdminID: "admin-1"})
	require.NoError(t, err)

	res, err := q.EnqueueSmartJob(ctx, SmartJobParams{
		Level:    model.PriorityLowQuality,
		MaxItems: 10,
		AdminID:  "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.SkippedActive)
	require.Len(t, res.Enqueued, 1)
	assert.Equal(t, fragA, res.Enqueued[0].FragranceID)
	assert.Equal(t, model.RequestTypeHybrid, res.Enqueued[0].Type)
	assert.Equal(t, 2, res.Enqueued[0].Priority)
}

func TestEnqueueSmartJob_Validation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueSmartJob(ctx, SmartJobParams{Level: model.PriorityLowQuality})
	assert.Error(t, err, "missing admin id")

	_, err = q.EnqueueSmartJob(ctx, SmartJobParams{Level: "everything", AdminID: "admin-1"})
	assert.Error(t, err, "unknown level")
}

func TestEnqueueSmartJob_MaxCostPerItem(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	seedFragrance(t, st, "a")

	res, err := q.EnqueueSmartJob(ctx, SmartJobParams{
		Level:          model.PriorityLowQuality,
		MaxItems:       10,
		MaxCostPerItem: 0.001,
		AdminID:        "admin-1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Enqueued)
	assert.Equal(t, 1, res.SkippedOverBudget)
}

func TestTransitionEvents(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	fragID := seedFragrance(t, st, "a")

	var events []TransitionEvent
	q.OnTransition(func(ev TransitionEvent) { events = append(events, ev) })

	req, err := q.Enqueue(ctx, EnqueueParams{
		FragranceID: fragID,
		Type:        model.RequestTypeHybrid,
		AdminID:     "admin-1",
	})
	require.NoError(t, err)

	claimed, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.MarkCompleted(ctx, claimed.ID, 0.01, ""))
	q.Release(claimed.FragranceID)

	require.Len(t, events, 3)
	assert.Equal(t, req.ID, events[0].RequestID)
	assert.Equal(t, model.RequestStatus(""), events[0].From, "admission has no prior state")
	assert.Equal(t, model.RequestStatusPending, events[0].To)
	assert.Equal(t, model.RequestStatusPending, events[1].From)
	assert.Equal(t, model.RequestStatusProcessing, events[1].To)
	assert.Equal(t, model.RequestStatusProcessing, events[2].From)
	assert.Equal(t, model.RequestStatusCompleted, events[2].To)
	assert.False(t, events[2].At.IsZero())
}

func TestRequeue(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()
	fragID := seedFragrance(t, st, "a")

	_, err := q.Enqueue(ctx, EnqueueParams{
		FragranceID: fragID,
		Type:        model.RequestTypeHybrid,
		AdminID:     "admin-1",
	})
	require.NoError(t, err)

	claimed, err := q.DequeueNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	q.Release(claimed.FragranceID)

	ok, err := q.Requeue(ctx, claimed.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := st.GetRequest(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, fresh.Status)

	ok, err = q.Requeue(ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, ok, "already back in pending")
}
