package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentdex/catalog-cli/internal/engine/provider"
	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
)

type fakeProvider struct {
	name       string
	cost       float64
	candidates []provider.Candidate
	err        error
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) CostPerFetch() float64 { return f.cost }
func (f *fakeProvider) FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg provider.FetchConfig) ([]provider.Candidate, error) {
	return f.candidates, f.err
}

func newTestEngine(providers ...provider.Provider) *Engine {
	r := provider.NewRegistry()
	for _, p := range providers {
		r.Register(p)
	}
	return New(r, merge.DefaultRules(), Options{FetchTimeout: time.Second})
}

func emptyRecord() *model.FragranceRecord {
	return &model.FragranceRecord{
		ID:     "frag-1",
		Name:   "Sauvage",
		Brand:  "Dior",
		Fields: model.FieldSet{},
	}
}

func hybridRequest() *model.EnhancementRequest {
	return &model.EnhancementRequest{
		ID:                  "req-1",
		FragranceID:         "frag-1",
		Type:                model.RequestTypeHybrid,
		ConfidenceThreshold: 0.8,
	}
}

func TestEnhance_AdditionsFromSingleProvider(t *testing.T) {
	e := newTestEngine(&fakeProvider{
		name: model.SourceAIAnalysis,
		cost: 0.02,
		candidates: []provider.Candidate{
			{Field: model.FieldFamily, Value: "woody aromatic", Confidence: 0.9, Source: model.SourceAIAnalysis},
			{Field: model.FieldLongevity, Value: "long lasting", Confidence: 0.6, Source: model.SourceAIAnalysis},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeAIAnalysis

	res, err := e.Enhance(context.Background(), emptyRecord(), req)
	require.NoError(t, err)
	require.Len(t, res.Changes, 2)
	assert.InDelta(t, 0.02, res.Cost, 1e-9)
	assert.Empty(t, res.SourceErrors)

	byField := changesByField(res.Changes)
	family := byField[model.FieldFamily]
	assert.Equal(t, model.ChangeAddition, family.ChangeType)
	assert.Equal(t, model.ApprovalAutoSelected, family.ApprovalState)
	assert.Nil(t, family.OldValue)

	longevity := byField[model.FieldLongevity]
	assert.Equal(t, model.ApprovalManual, longevity.ApprovalState, "below threshold must not auto-select")
}

func TestEnhance_HigherConfidenceWinsPerField(t *testing.T) {
	e := newTestEngine(
		&fakeProvider{
			name: model.SourceAIAnalysis,
			candidates: []provider.Candidate{
				{Field: model.FieldFamily, Value: "woody", Confidence: 0.7, Source: model.SourceAIAnalysis},
			},
		},
		&fakeProvider{
			name: model.SourceWebScrape,
			candidates: []provider.Candidate{
				{Field: model.FieldFamily, Value: "aromatic fougere", Confidence: 0.85, Source: model.SourceWebScrape},
			},
		},
	)

	res, err := e.Enhance(context.Background(), emptyRecord(), hybridRequest())
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "aromatic fougere", res.Changes[0].NewValue)
	assert.Equal(t, model.SourceWebScrape, res.Changes[0].Source)
}

func TestEnhance_TieBreaksOnSourcePriority(t *testing.T) {
	e := newTestEngine(
		&fakeProvider{
			name: model.SourceAIAnalysis,
			candidates: []provider.Candidate{
				{Field: model.FieldFamily, Value: "woody", Confidence: 0.85, Source: model.SourceAIAnalysis},
			},
		},
		&fakeProvider{
			name: model.SourceWebScrape,
			candidates: []provider.Candidate{
				{Field: model.FieldFamily, Value: "aromatic", Confidence: 0.85, Source: model.SourceWebScrape},
			},
		},
	)

	res, err := e.Enhance(context.Background(), emptyRecord(), hybridRequest())
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, model.SourceWebScrape, res.Changes[0].Source)
}

func TestEnhance_VerifiedFieldNotTouched(t *testing.T) {
	rec := emptyRecord()
	rec.Fields[model.FieldFamily] = model.FieldState{
		Value: "oriental", Confidence: 1, Verified: true, Source: model.SourceManual, UpdatedAt: time.Now().UTC(),
	}

	e := newTestEngine(&fakeProvider{
		name: model.SourceWebScrape,
		candidates: []provider.Candidate{
			{Field: model.FieldFamily, Value: "woody", Confidence: 0.99, Source: model.SourceWebScrape},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeWebScrape

	res, err := e.Enhance(context.Background(), rec, req)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
}

func TestEnhance_CorrectionNeedsConfidenceGain(t *testing.T) {
	rec := emptyRecord()
	rec.Fields[model.FieldFamily] = model.FieldState{
		Value: "woody", Confidence: 0.8, Source: model.SourceAIAnalysis, UpdatedAt: time.Now().UTC(),
	}

	// 0.9 is above the current value but not by more than the 0.15 margin.
	e := newTestEngine(&fakeProvider{
		name: model.SourceWebScrape,
		candidates: []provider.Candidate{
			{Field: model.FieldFamily, Value: "aromatic", Confidence: 0.9, Source: model.SourceWebScrape},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeWebScrape

	res, err := e.Enhance(context.Background(), rec, req)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
}

func TestEnhance_ConcentrationCanonicalization(t *testing.T) {
	rec := emptyRecord()
	rec.Fields[model.FieldConcentration] = model.FieldState{
		Value: "EDT", Confidence: 0.7, Source: model.SourceAIAnalysis, UpdatedAt: time.Now().UTC(),
	}

	e := newTestEngine(&fakeProvider{
		name: model.SourceWebScrape,
		candidates: []provider.Candidate{
			{Field: model.FieldConcentration, Value: "Eau de Toilette", Confidence: 0.85, Source: model.SourceWebScrape},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeWebScrape

	res, err := e.Enhance(context.Background(), rec, req)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, model.ChangeEnhancement, res.Changes[0].ChangeType)
	assert.Equal(t, "Eau de Toilette", res.Changes[0].NewValue)
	assert.Equal(t, "EDT", res.Changes[0].OldValue)
}

func TestEnhance_PartialSourceFailureDegrades(t *testing.T) {
	e := newTestEngine(
		&fakeProvider{name: model.SourceAIAnalysis, err: errors.New("model overloaded")},
		&fakeProvider{
			name: model.SourceWebScrape,
			cost: 0.005,
			candidates: []provider.Candidate{
				{Field: model.FieldFamily, Value: "floral", Confidence: 0.85, Source: model.SourceWebScrape},
			},
		},
	)

	res, err := e.Enhance(context.Background(), emptyRecord(), hybridRequest())
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	require.Len(t, res.SourceErrors, 1)
	assert.InDelta(t, 0.005, res.Cost, 1e-9)
}

func TestEnhance_AllSourcesFail(t *testing.T) {
	e := newTestEngine(
		&fakeProvider{name: model.SourceAIAnalysis, err: errors.New("model overloaded")},
		&fakeProvider{name: model.SourceWebScrape, err: errors.New("connection refused")},
	)

	_, err := e.Enhance(context.Background(), emptyRecord(), hybridRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 sources failed")
}

func TestEnhance_InvalidGenderNeverAutoSelected(t *testing.T) {
	e := newTestEngine(&fakeProvider{
		name: model.SourceAIAnalysis,
		candidates: []provider.Candidate{
			{Field: model.FieldGender, Value: "mostly-male", Confidence: 0.95, Source: model.SourceAIAnalysis},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeAIAnalysis

	res, err := e.Enhance(context.Background(), emptyRecord(), req)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, model.ApprovalManual, res.Changes[0].ApprovalState)
	assert.NotEmpty(t, res.Changes[0].ValidationErrors)
}

func TestEnhance_UnknownRequestType(t *testing.T) {
	e := newTestEngine()
	req := hybridRequest()
	req.Type = model.RequestType("bogus")

	_, err := e.Enhance(context.Background(), emptyRecord(), req)
	require.Error(t, err)
}

func changesByField(changes []model.EnhancementChange) map[string]model.EnhancementChange {
	out := make(map[string]model.EnhancementChange, len(changes))
	for _, ch := range changes {
		out[ch.FieldName] = ch
	}
	return out
}

func TestEnhance_AutoSelectBoundaryInclusive(t *testing.T) {
	e := newTestEngine(&fakeProvider{
		name: model.SourceWebScrape,
		candidates: []provider.Candidate{
			{Field: model.FieldFamily, Value: "woody", Confidence: 0.95, Source: model.SourceWebScrape},
			{Field: model.FieldSillage, Value: "strong", Confidence: 0.81, Source: model.SourceWebScrape},
			{Field: model.FieldLongevity, Value: "long lasting", Confidence: 0.79, Source: model.SourceWebScrape},
			{Field: model.FieldDescription, Value: "a classic", Confidence: 0.50, Source: model.SourceWebScrape},
			{Field: model.FieldConcentration, Value: "EDT", Confidence: 0.80, Source: model.SourceWebScrape},
		},
	})

	req := hybridRequest()
	req.Type = model.RequestTypeWebScrape

	res, err := e.Enhance(context.Background(), emptyRecord(), req)
	require.NoError(t, err)
	require.Len(t, res.Changes, 5)

	byField := changesByField(res.Changes)
	assert.Equal(t, model.ApprovalAutoSelected, byField[model.FieldFamily].ApprovalState)
	assert.Equal(t, model.ApprovalAutoSelected, byField[model.FieldSillage].ApprovalState)
	assert.Equal(t, model.ApprovalManual, byField[model.FieldLongevity].ApprovalState)
	assert.Equal(t, model.ApprovalManual, byField[model.FieldDescription].ApprovalState)
	assert.Equal(t, model.ApprovalAutoSelected, byField[model.FieldConcentration].ApprovalState,
		"the threshold is inclusive")
}

func TestEnhance_ReimportedListIsNotAChange(t *testing.T) {
	e := newTestEngine(&fakeProvider{
		name: model.SourceWebScrape,
		candidates: []provider.Candidate{
			{Field: model.FieldTopNotes, Value: []string{"Bergamot", "Pepper"}, Confidence: 0.85, Source: model.SourceWebScrape},
		},
	})

	rec := emptyRecord()
	// Stored lists come back from the JSON column as []any.
	rec.Fields[model.FieldTopNotes] = model.FieldState{
		Value:      []any{"Bergamot", "Pepper"},
		Confidence: 0.85,
		Source:     model.SourceWebScrape,
	}

	req := hybridRequest()
	req.Type = model.RequestTypeWebScrape

	res, err := e.Enhance(context.Background(), rec, req)
	require.NoError(t, err)
	assert.Empty(t, res.Changes, "same notes in a different slice shape must not propose a change")
}
