package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	s, err := NewSQLite(dsn, merge.DefaultRules())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func manualField(value any, confidence float64) model.FieldState {
	return model.FieldState{
		Value:      value,
		Confidence: confidence,
		Source:     model.SourceManual,
		UpdatedAt:  time.Now().UTC(),
	}
}

func seedFragrance(t *testing.T, s *SQLiteStore, key string, fields model.FieldSet) *model.FragranceRecord {
	t.Helper()
	res, err := s.Upsert(context.Background(), UpsertInput{
		ExternalKey: key,
		Name:        "Test Fragrance",
		Brand:       "Test-Brand",
		Fields:      fields,
		RequestType: model.RequestTypeManual,
	})
	require.NoError(t, err)
	rec, err := s.GetFragrance(context.Background(), res.RecordID)
	require.NoError(t, err)
	return rec
}

func TestUpsert_CreatesThenIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := UpsertInput{
		ExternalKey: "dior-sauvage-edt",
		Name:        "Sauvage",
		Brand:       "Dior",
		Fields: model.FieldSet{
			model.FieldConcentration: manualField("Eau de Toilette", 1),
			model.FieldGender:        manualField("male", 1),
		},
		RequestType: model.RequestTypeManual,
	}

	first, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, first.Status)
	assert.ElementsMatch(t, []string{"concentration", "gender"}, first.UpdatedFields)

	second, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, UpsertVerified, second.Status)
	assert.Empty(t, second.UpdatedFields)
}

func TestUpsert_ConcurrentSameKey_NoDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Upsert(ctx, UpsertInput{
				ExternalKey: "chanel-bleu",
				Name:        "Bleu de Chanel",
				Brand:       "Chanel",
				RequestType: model.RequestTypeManual,
			})
			require.NoError(t, err)
			ids[i] = res.RecordID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "all upserts must land on one record")
	}
}

func TestUpsert_EnhanceFillsEmptyFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedFragrance(t, s, "ysl-libre", model.FieldSet{
		model.FieldGender: manualField("female", 1),
	})

	res, err := s.Upsert(ctx, UpsertInput{
		ExternalKey: "ysl-libre",
		Name:        "Libre",
		Brand:       "YSL",
		Fields: model.FieldSet{
			model.FieldFamily: {Value: "floral", Confidence: 0.9, Source: model.SourceWebScrape},
			model.FieldGender: {Value: "male", Confidence: 0.9, Source: model.SourceWebScrape},
		},
		RequestType: model.RequestTypeWebScrape,
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertEnhanced, res.Status)
	assert.Equal(t, []string{"family"}, res.UpdatedFields, "occupied gender must not be overwritten without sufficient gain")

	rec, err := s.GetFragranceByKey(ctx, "ysl-libre")
	require.NoError(t, err)
	assert.Equal(t, "female", rec.Fields[model.FieldGender].Value)
	assert.Equal(t, "floral", rec.Fields[model.FieldFamily].Value)
}

func TestUpsert_VerifiedFieldLocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "tf-noir", model.FieldSet{
		model.FieldFamily: manualField("oriental", 1),
	})
	require.NoError(t, s.SetFieldVerified(ctx, rec.ID, model.FieldFamily, true))

	res, err := s.Upsert(ctx, UpsertInput{
		ExternalKey: "tf-noir",
		Name:        "Noir",
		Brand:       "Tom Ford",
		Fields: model.FieldSet{
			model.FieldFamily: {Value: "woody", Confidence: 0.99, Source: model.SourceWebScrape},
		},
		RequestType: model.RequestTypeWebScrape,
	})
	require.NoError(t, err)
	assert.Empty(t, res.UpdatedFields)

	got, err := s.GetFragrance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "oriental", got.Fields[model.FieldFamily].Value)
	assert.True(t, got.Fields[model.FieldFamily].Verified)
}

func TestUpsert_NormalizesConcentration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, UpsertInput{
		ExternalKey: "armani-code",
		Name:        "Code",
		Brand:       "Armani",
		Fields: model.FieldSet{
			model.FieldConcentration: manualField("edp", 1),
		},
		RequestType: model.RequestTypeManual,
	})
	require.NoError(t, err)

	rec, err := s.GetFragrance(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "Eau de Parfum", rec.Fields[model.FieldConcentration].Value)
}

func TestSelectCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// poor: 1 field of 12; rich: 11 fields.
	poor := seedFragrance(t, s, "poor", model.FieldSet{
		model.FieldGender: manualField("unisex", 1),
	})
	richFields := model.FieldSet{}
	for _, f := range model.TrackedFields[:11] {
		richFields[f] = manualField("value-"+f, 1)
	}
	rich := seedFragrance(t, s, "rich", richFields)

	lowQuality, err := s.SelectCandidates(ctx, model.PriorityLowQuality, 10)
	require.NoError(t, err)
	require.Len(t, lowQuality, 1)
	assert.Equal(t, poor.ID, lowQuality[0].ID)

	missing, err := s.SelectCandidates(ctx, model.PriorityMissingData, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, poor.ID, missing[0].ID, "lowest completeness first")
	assert.Equal(t, rich.ID, missing[1].ID)

	unverified, err := s.SelectCandidates(ctx, model.PriorityUnverified, 10)
	require.NoError(t, err)
	assert.Len(t, unverified, 2)

	require.NoError(t, s.SetFieldVerified(ctx, poor.ID, model.FieldGender, true))
	unverified, err = s.SelectCandidates(ctx, model.PriorityUnverified, 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	assert.Equal(t, rich.ID, unverified[0].ID)
}

func TestSelectCandidates_MaxItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedFragrance(t, s, "frag-"+string(rune('a'+i)), model.FieldSet{})
	}

	got, err := s.SelectCandidates(ctx, model.PriorityMissingData, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTransitionRequest_CAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "frag", model.FieldSet{})
	req := &model.EnhancementRequest{
		FragranceID:         rec.ID,
		Type:                model.RequestTypeHybrid,
		Priority:            5,
		ConfidenceThreshold: 0.8,
		AdminID:             "admin-1",
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	now := time.Now().UTC()
	ok, err := s.TransitionRequest(ctx, req.ID,
		model.RequestStatusPending, model.RequestStatusProcessing,
		RequestUpdate{StartedAt: &now})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim from pending loses.
	ok, err = s.TransitionRequest(ctx, req.ID,
		model.RequestStatusPending, model.RequestStatusProcessing, RequestUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestListPending_PriorityThenFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "frag", model.FieldSet{})
	mk := func(priority int, createdAt time.Time) string {
		req := &model.EnhancementRequest{
			FragranceID:         rec.ID,
			Type:                model.RequestTypeHybrid,
			Priority:            priority,
			ConfidenceThreshold: 0.8,
			AdminID:             "admin-1",
			CreatedAt:           createdAt,
		}
		require.NoError(t, s.CreateRequest(ctx, req))
		return req.ID
	}

	base := time.Now().UTC().Add(-time.Hour)
	late := mk(5, base.Add(10*time.Minute))
	early := mk(5, base)
	urgent := mk(1, base.Add(20*time.Minute))

	got, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, urgent, got[0].ID)
	assert.Equal(t, early, got[1].ID)
	assert.Equal(t, late, got[2].ID)
}

func TestApplyRecordChanges_AndDrift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "frag", model.FieldSet{})
	req := &model.EnhancementRequest{
		FragranceID:         rec.ID,
		Type:                model.RequestTypeHybrid,
		Priority:            5,
		ConfidenceThreshold: 0.8,
		AdminID:             "admin-1",
		Status:              model.RequestStatusCompleted,
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	changes := []model.EnhancementChange{{
		RequestID:       req.ID,
		FragranceID:     rec.ID,
		FieldName:       model.FieldFamily,
		NewValue:        "woody",
		ChangeType:      model.ChangeAddition,
		ConfidenceScore: 0.9,
		Source:          model.SourceWebScrape,
		ApprovalState:   model.ApprovalAutoSelected,
	}}
	require.NoError(t, s.CreateChanges(ctx, changes))

	rec.Fields[model.FieldFamily] = model.FieldState{
		Value: "woody", Confidence: 0.9, Source: model.SourceWebScrape, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyRecordChanges(ctx, rec, changes))

	got, err := s.GetFragrance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "woody", got.Fields[model.FieldFamily].Value)
	assert.Equal(t, rec.Version+1, got.Version)

	applied, err := s.GetChangesForRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, model.ApprovalApplied, applied[0].ApprovalState)
	assert.NotNil(t, applied[0].AppliedAt)

	reqAfter, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reqAfter.AppliedCount)
	require.NotNil(t, reqAfter.CompletenessAfter)

	// Stale version must surface drift instead of clobbering.
	err = s.ApplyRecordChanges(ctx, rec, changes)
	require.Error(t, err)
	assert.True(t, IsDrift(err))
}

func TestUpdateChangeStates_SkipsApplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "frag", model.FieldSet{})
	req := &model.EnhancementRequest{
		FragranceID: rec.ID, Type: model.RequestTypeHybrid,
		Priority: 5, ConfidenceThreshold: 0.8, AdminID: "admin-1",
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	changes := []model.EnhancementChange{
		{
			RequestID: req.ID, FragranceID: rec.ID, FieldName: model.FieldFamily,
			NewValue: "woody", ChangeType: model.ChangeAddition,
			ConfidenceScore: 0.9, Source: model.SourceWebScrape,
			ApprovalState: model.ApprovalApplied,
		},
		{
			RequestID: req.ID, FragranceID: rec.ID, FieldName: model.FieldSillage,
			NewValue: "moderate", ChangeType: model.ChangeAddition,
			ConfidenceScore: 0.6, Source: model.SourceAIAnalysis,
			ApprovalState: model.ApprovalManual,
		},
	}
	require.NoError(t, s.CreateChanges(ctx, changes))

	ids := []string{changes[0].ID, changes[1].ID}
	require.NoError(t, s.UpdateChangeStates(ctx, ids, model.ApprovalRejected, "admin-2", "inaccurate"))

	got, err := s.GetChangesByIDs(ctx, ids)
	require.NoError(t, err)
	byField := map[string]model.EnhancementChange{}
	for _, ch := range got {
		byField[ch.FieldName] = ch
	}
	assert.Equal(t, model.ApprovalApplied, byField[model.FieldFamily].ApprovalState, "applied changes are immutable audit entries")
	assert.Equal(t, model.ApprovalRejected, byField[model.FieldSillage].ApprovalState)
	assert.Equal(t, "inaccurate", byField[model.FieldSillage].RejectReason)
}

func TestStatsQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedFragrance(t, s, "frag", model.FieldSet{})
	mk := func(status model.RequestStatus, actualCost float64) {
		req := &model.EnhancementRequest{
			FragranceID: rec.ID, Type: model.RequestTypeHybrid,
			Priority: 5, ConfidenceThreshold: 0.8, AdminID: "admin-1", Status: status,
			ActualCost: actualCost,
		}
		require.NoError(t, s.CreateRequest(ctx, req))
	}
	for i := 0; i < 4; i++ {
		mk(model.RequestStatusCompleted, 0.05)
	}
	mk(model.RequestStatusFailed, 0.01)
	mk(model.RequestStatusPending, 0)

	counts, err := s.RequestCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.RequestStatusCompleted])
	assert.Equal(t, 1, counts[model.RequestStatusFailed])
	assert.Equal(t, 1, counts[model.RequestStatusPending])

	total, err := s.TotalCostSpent(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.21, total, 1e-9)
}

func TestGetFragrance_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFragrance(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
