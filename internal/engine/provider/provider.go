// Package provider defines the interface and implementations for enhancement
// data providers.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/scentdex/catalog-cli/internal/model"
)

// Candidate is a single proposed field value returned by a provider.
type Candidate struct {
	Field      string  `json:"field"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	SourceURL  string  `json:"source_url,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// FetchConfig carries per-request knobs a provider may honor.
type FetchConfig struct {
	// Fields limits the fetch to specific tracked fields. Empty means all.
	Fields []string
}

// Provider fetches candidate field values for a fragrance record.
type Provider interface {
	// Name returns the provider identifier, used as the change source.
	Name() string
	// CostPerFetch estimates the cost of a single FetchCandidates call.
	CostPerFetch() float64
	// FetchCandidates returns proposed values for the record's tracked fields.
	FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg FetchConfig) ([]Candidate, error)
}

// SourceUnavailableError indicates a provider could not reach its backing
// source at all, as opposed to returning no candidates.
type SourceUnavailableError struct {
	Provider string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Provider, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// Registry manages available enhancement providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ForRequestType resolves the providers an enhancement request type uses.
// Hybrid requests combine the AI and scrape providers; manual requests use
// none, their changes arrive through the review surface instead.
func (r *Registry) ForRequestType(t model.RequestType) []Provider {
	var names []string
	switch t {
	case model.RequestTypeAIAnalysis:
		names = []string{model.SourceAIAnalysis}
	case model.RequestTypeWebScrape:
		names = []string{model.SourceWebScrape}
	case model.RequestTypeHybrid:
		names = []string{model.SourceAIAnalysis, model.SourceWebScrape}
	default:
		return nil
	}

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if p := r.Get(name); p != nil {
			out = append(out, p)
		}
	}
	return out
}
