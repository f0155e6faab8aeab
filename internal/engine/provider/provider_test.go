package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/pkg/anthropic"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string          { return s.name }
func (s *stubProvider) CostPerFetch() float64 { return 0.01 }
func (s *stubProvider) FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg FetchConfig) ([]Candidate, error) {
	return nil, nil
}

func TestRegistry_ForRequestType(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: model.SourceAIAnalysis})
	r.Register(&stubProvider{name: model.SourceWebScrape})

	tests := []struct {
		reqType model.RequestType
		want    []string
	}{
		{model.RequestTypeAIAnalysis, []string{model.SourceAIAnalysis}},
		{model.RequestTypeWebScrape, []string{model.SourceWebScrape}},
		{model.RequestTypeHybrid, []string{model.SourceAIAnalysis, model.SourceWebScrape}},
		{model.RequestTypeManual, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.reqType), func(t *testing.T) {
			got := r.ForRequestType(tt.reqType)
			names := make([]string, 0, len(got))
			for _, p := range got {
				names = append(names, p.Name())
			}
			if tt.want == nil {
				assert.Empty(t, names)
				return
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRegistry_ForRequestType_MissingProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: model.SourceAIAnalysis})

	// Hybrid degrades to whichever providers are registered.
	got := r.ForRequestType(model.RequestTypeHybrid)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceAIAnalysis, got[0].Name())
}

// fakeAnthropicClient returns a canned response.
type fakeAnthropicClient struct {
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return f.resp, f.err
}

func TestAIProvider_FetchCandidates(t *testing.T) {
	client := &fakeAnthropicClient{
		resp: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{
				Type: "text",
				Text: "```json\n{\"fields\": [{\"field\": \"family\", \"value\": \"woody aromatic\", \"confidence\": 0.88, \"notes\": \"widely documented\"}]}\n```",
			}},
		},
	}

	p := NewAIProvider(client, "claude-haiku-4-5-20251001", 0.02)
	rec := &model.FragranceRecord{ID: "frag-1", Name: "Sauvage", Brand: "Dior", Fields: model.FieldSet{}}

	candidates, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.FieldFamily, candidates[0].Field)
	assert.Equal(t, "woody aromatic", candidates[0].Value)
	assert.InDelta(t, 0.88, candidates[0].Confidence, 1e-9)
	assert.Equal(t, model.SourceAIAnalysis, candidates[0].Source)
}

func TestAIProvider_FetchCandidates_SourceUnavailable(t *testing.T) {
	client := &fakeAnthropicClient{err: errors.New("api key invalid")}
	p := NewAIProvider(client, "claude-haiku-4-5-20251001", 0.02)
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	_, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.Error(t, err)
	var unavailable *SourceUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.Equal(t, model.SourceAIAnalysis, unavailable.Provider)
}

func TestAIProvider_ParseResponse_Malformed(t *testing.T) {
	client := &fakeAnthropicClient{
		resp: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: "I could not find any data."}},
		},
	}
	p := NewAIProvider(client, "claude-haiku-4-5-20251001", 0.02)
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	_, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestScrapeProvider_FetchCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Dior", r.URL.Query().Get("brand"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"url": "https://source.example/sauvage",
			"concentration": "EDT",
			"family": "aromatic fougere",
			"top_notes": ["bergamot", "pepper"],
			"pricing": {"amount": 105.0, "currency": "USD", "size_ml": 100}
		}`))
	}))
	defer srv.Close()

	p := NewScrapeProvider(ScrapeOptions{BaseURL: srv.URL, CostPerFetch: 0.005})
	rec := &model.FragranceRecord{ID: "frag-1", Name: "Sauvage", Brand: "Dior", Fields: model.FieldSet{}}

	candidates, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.NoError(t, err)

	byField := make(map[string]Candidate)
	for _, c := range candidates {
		byField[c.Field] = c
	}
	assert.Equal(t, "EDT", byField[model.FieldConcentration].Value)
	assert.Equal(t, []string{"bergamot", "pepper"}, byField[model.FieldTopNotes].Value)
	assert.Equal(t, "https://source.example/sauvage", byField[model.FieldFamily].SourceURL)
	pricing, ok := byField[model.FieldPricing].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 105.0, pricing["amount"])
	_, hasGender := byField[model.FieldGender]
	assert.False(t, hasGender, "empty source fields should not produce candidates")
}

func TestScrapeProvider_FieldFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"concentration": "EDP", "family": "oriental", "longevity": "long lasting"}`))
	}))
	defer srv.Close()

	p := NewScrapeProvider(ScrapeOptions{BaseURL: srv.URL})
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	candidates, err := p.FetchCandidates(context.Background(), rec, FetchConfig{
		Fields: []string{model.FieldFamily},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.FieldFamily, candidates[0].Field)
}

func TestScrapeProvider_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewScrapeProvider(ScrapeOptions{BaseURL: srv.URL})
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	candidates, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestScrapeProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewScrapeProvider(ScrapeOptions{BaseURL: srv.URL})
	p.retry.MaxAttempts = 1
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	_, err := p.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.Error(t, err)
	var unavailable *SourceUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.Equal(t, model.SourceWebScrape, unavailable.Provider)
}
