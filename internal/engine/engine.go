// Package engine turns an enhancement request into a set of proposed field
// changes by fanning out to data providers and filtering their candidates
// through the merge rules.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scentdex/catalog-cli/internal/engine/provider"
	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/normalize"
)

// Options configures the engine.
type Options struct {
	// FetchTimeout bounds a single provider call. Default 2 minutes.
	FetchTimeout time.Duration
	// AutoSelectThreshold is the fallback confidence cutoff when a request
	// does not carry its own. Default 0.8.
	AutoSelectThreshold float64
}

// Engine produces proposed changes for enhancement requests.
type Engine struct {
	registry *provider.Registry
	rules    merge.Rules
	opts     Options
}

// Result is the outcome of running one enhancement request.
type Result struct {
	Changes []model.EnhancementChange
	// Cost is the summed per-fetch cost of the providers that responded.
	Cost float64
	// SourceErrors holds per-provider failures when at least one provider
	// succeeded. All providers failing is returned as an error instead.
	SourceErrors []error
}

// New creates an Engine over the given provider registry and merge rules.
func New(registry *provider.Registry, rules merge.Rules, opts Options) *Engine {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Minute
	}
	if opts.AutoSelectThreshold <= 0 {
		opts.AutoSelectThreshold = 0.8
	}
	return &Engine{registry: registry, rules: rules, opts: opts}
}

// Enhance fans out to the request's providers, picks a winner per field, and
// returns the changes the merge rules allow. Manual requests never reach the
// engine; their changes are recorded directly.
func (e *Engine) Enhance(ctx context.Context, rec *model.FragranceRecord, req *model.EnhancementRequest) (*Result, error) {
	providers := e.registry.ForRequestType(req.Type)
	if len(providers) == 0 {
		return nil, eris.Errorf("engine: no providers for request type %q", req.Type)
	}

	candidates, cost, srcErrs := e.fetchAll(ctx, providers, rec)
	if len(srcErrs) == len(providers) {
		return nil, eris.Wrapf(joinErrors(srcErrs), "engine: all %d sources failed", len(providers))
	}

	now := time.Now().UTC()
	changes := e.evaluate(rec, req, candidates, now)

	zap.L().Info("enhancement evaluated",
		zap.String("request_id", req.ID),
		zap.String("fragrance_id", rec.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("changes", len(changes)),
		zap.Int("source_errors", len(srcErrs)),
		zap.Float64("cost", cost),
	)

	return &Result{Changes: changes, Cost: cost, SourceErrors: srcErrs}, nil
}

// fetchAll runs every provider concurrently and collects candidates from the
// ones that succeed.
func (e *Engine) fetchAll(ctx context.Context, providers []provider.Provider, rec *model.FragranceRecord) ([]provider.Candidate, float64, []error) {
	var (
		mu         sync.Mutex
		candidates []provider.Candidate
		cost       float64
		srcErrs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, e.opts.FetchTimeout)
			defer cancel()

			got, err := p.FetchCandidates(fetchCtx, rec, provider.FetchConfig{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("provider failed",
					zap.String("provider", p.Name()),
					zap.String("fragrance_id", rec.ID),
					zap.Error(err),
				)
				srcErrs = append(srcErrs, err)
				return nil
			}
			candidates = append(candidates, got...)
			cost += p.CostPerFetch()
			return nil
		})
	}
	g.Wait()

	return candidates, cost, srcErrs
}

// evaluate normalizes and validates candidates, resolves one winner per field,
// and keeps only the winners the merge rules admit.
func (e *Engine) evaluate(rec *model.FragranceRecord, req *model.EnhancementRequest, candidates []provider.Candidate, now time.Time) []model.EnhancementChange {
	winners := make(map[string]provider.Candidate)
	validation := make(map[string][]string)

	for _, c := range candidates {
		errs := validateCandidate(c)
		c.Value = normalize.Value(c.Field, c.Value)
		if model.IsEmptyValue(c.Value) {
			continue
		}

		prev, seen := winners[c.Field]
		if !seen || merge.Better(c.Confidence, c.Source, prev.Confidence, prev.Source) {
			winners[c.Field] = c
			validation[c.Field] = errs
		}
	}

	fields := make([]string, 0, len(winners))
	for f := range winners {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = e.opts.AutoSelectThreshold
	}

	var changes []model.EnhancementChange
	for _, field := range fields {
		c := winners[field]
		current, _ := rec.Field(field)
		canonEq := normalize.CanonicalEqual(field, current.Value, c.Value)
		changeType := e.rules.Classify(field, current, canonEq, now)

		decision := e.rules.Eligible(req.Type, field, current, changeType, c.Value, c.Confidence, now)
		if !decision.Eligible {
			zap.L().Debug("candidate filtered",
				zap.String("field", field),
				zap.String("reason", decision.Reason),
			)
			continue
		}

		errs := validation[field]
		state := model.ApprovalManual
		if c.Confidence >= threshold && len(errs) == 0 {
			state = model.ApprovalAutoSelected
		}

		var oldValue any
		if !model.IsEmptyValue(current.Value) {
			oldValue = current.Value
		}

		changes = append(changes, model.EnhancementChange{
			RequestID:        req.ID,
			FragranceID:      rec.ID,
			FieldName:        field,
			OldValue:         oldValue,
			NewValue:         c.Value,
			ChangeType:       changeType,
			ConfidenceScore:  clamp01(c.Confidence),
			Source:           c.Source,
			SourceURL:        c.SourceURL,
			Notes:            c.Notes,
			ValidationErrors: errs,
			ApprovalState:    state,
		})
	}

	return changes
}

// validateCandidate returns the problems a reviewer should see. Invalid
// candidates are still proposed, but never auto-selected.
func validateCandidate(c provider.Candidate) []string {
	var errs []string
	if !model.IsTrackedField(c.Field) {
		errs = append(errs, fmt.Sprintf("unknown field %q", c.Field))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence %.2f outside [0, 1]", c.Confidence))
	}
	if c.Field == model.FieldGender {
		if s, ok := c.Value.(string); ok && !normalize.ValidGender(normalize.Gender(s)) {
			errs = append(errs, fmt.Sprintf("gender %q is not male, female, or unisex", s))
		}
	}
	return errs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return eris.New("no sources available")
	}
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return eris.New(strings.Join(parts, "; "))
}
