package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentdex/catalog-cli/internal/model"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: primary
    base_url: https://data.example.com
    user_agent: custom-agent/2.0
    requests_per_second: 4
    timeout_secs: 10
    cost_per_fetch: 0.004
  - name: mirror
    base_url: https://mirror.example.com
`)

	defaults := ScrapeOptions{
		UserAgent:         "catalog-cli/1.0",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
		CostPerFetch:      0.005,
	}
	sources, err := LoadSources(path, defaults)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "https://data.example.com", sources[0].BaseURL)
	assert.Equal(t, "custom-agent/2.0", sources[0].UserAgent)
	assert.Equal(t, 4.0, sources[0].RequestsPerSecond)
	assert.Equal(t, 10*time.Second, sources[0].Timeout)
	assert.InDelta(t, 0.004, sources[0].CostPerFetch, 1e-9)

	// The mirror inherits every default it left out.
	assert.Equal(t, "https://mirror.example.com", sources[1].BaseURL)
	assert.Equal(t, "catalog-cli/1.0", sources[1].UserAgent)
	assert.Equal(t, 2.0, sources[1].RequestsPerSecond)
	assert.Equal(t, 30*time.Second, sources[1].Timeout)
	assert.InDelta(t, 0.005, sources[1].CostPerFetch, 1e-9)
}

func TestLoadSources_Invalid(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "missing.yaml"), ScrapeOptions{})
	assert.Error(t, err, "missing file")

	_, err = LoadSources(writeSources(t, "sources: []\n"), ScrapeOptions{})
	assert.Error(t, err, "empty source list")

	_, err = LoadSources(writeSources(t, "sources:\n  - name: nameless\n"), ScrapeOptions{})
	assert.Error(t, err, "source without base_url")
}

func TestScrapeChain_FallsThroughToNextSource(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer primary.Close()

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"family": "woody", "gender": "male"}`))
	}))
	defer mirror.Close()

	chain := NewScrapeChain([]ScrapeOptions{
		{BaseURL: primary.URL, CostPerFetch: 0.004},
		{BaseURL: mirror.URL, CostPerFetch: 0.005},
	})
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	candidates, err := chain.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, model.SourceWebScrape, chain.Name())
	assert.InDelta(t, 0.004, chain.CostPerFetch(), 1e-9, "primary source sets the rate")
}

func TestScrapeChain_AllSourcesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	chain := NewScrapeChain([]ScrapeOptions{{BaseURL: srv.URL}})
	for _, src := range chain.sources {
		src.retry.MaxAttempts = 1
	}
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	_, err := chain.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.Error(t, err)
	var unavailable *SourceUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestScrapeChain_NoDocumentAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	chain := NewScrapeChain([]ScrapeOptions{{BaseURL: srv.URL}, {BaseURL: srv.URL}})
	rec := &model.FragranceRecord{ID: "frag-1", Name: "X", Brand: "Y", Fields: model.FieldSet{}}

	candidates, err := chain.FetchCandidates(context.Background(), rec, FetchConfig{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
