package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/resilience"
)

// ScrapeOptions configures the web scrape provider.
type ScrapeOptions struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	CostPerFetch float64
	// RequestsPerSecond throttles calls against the source. Default 2.
	RequestsPerSecond float64
}

// ScrapeProvider fetches candidate values from a structured fragrance data
// source over HTTP.
type ScrapeProvider struct {
	client  *http.Client
	opts    ScrapeOptions
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewScrapeProvider creates a ScrapeProvider for the given source.
func NewScrapeProvider(opts ScrapeOptions) *ScrapeProvider {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "catalog-cli/1.0"
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("scrape", "fetch_candidates")

	return &ScrapeProvider{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retry,
	}
}

func (p *ScrapeProvider) Name() string { return model.SourceWebScrape }

func (p *ScrapeProvider) CostPerFetch() float64 { return p.opts.CostPerFetch }

// scrapeDoc is the source's document shape for a single fragrance.
type scrapeDoc struct {
	URL           string          `json:"url"`
	Concentration string          `json:"concentration"`
	Family        string          `json:"family"`
	Gender        string          `json:"gender"`
	Description   string          `json:"description"`
	TopNotes      []string        `json:"top_notes"`
	MiddleNotes   []string        `json:"middle_notes"`
	BaseNotes     []string        `json:"base_notes"`
	MainAccords   []string        `json:"main_accords"`
	Longevity     string          `json:"longevity"`
	Sillage       string          `json:"sillage"`
	Pricing       json.RawMessage `json:"pricing"`
	ImageURL      string          `json:"image_url"`
}

func (p *ScrapeProvider) FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg FetchConfig) ([]Candidate, error) {
	doc, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*scrapeDoc, error) {
		return p.fetch(ctx, rec)
	})
	if err != nil {
		return nil, &SourceUnavailableError{Provider: p.Name(), Err: err}
	}
	if doc == nil {
		zap.L().Debug("scrape source has no document for fragrance",
			zap.String("fragrance_id", rec.ID))
		return nil, nil
	}

	candidates := docCandidates(doc)
	if len(cfg.Fields) > 0 {
		wanted := make(map[string]bool, len(cfg.Fields))
		for _, f := range cfg.Fields {
			wanted[f] = true
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			if wanted[c.Field] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	return candidates, nil
}

func (p *ScrapeProvider) fetch(ctx context.Context, rec *model.FragranceRecord) (*scrapeDoc, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("brand", rec.Brand)
	q.Set("name", rec.Name)
	reqURL := p.opts.BaseURL + "/fragrances?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: build request")
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("scrape: unexpected status %d from %s", resp.StatusCode, reqURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read body")
	}

	var doc scrapeDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, eris.Wrap(err, "scrape: decode document")
	}
	if doc.URL == "" {
		doc.URL = reqURL
	}
	return &doc, nil
}

// Scraped structured fields carry a fixed confidence: the source is curated
// but not this catalog's ground truth.
const scrapeConfidence = 0.85

func docCandidates(doc *scrapeDoc) []Candidate {
	add := func(out []Candidate, field string, value any) []Candidate {
		if model.IsEmptyValue(value) {
			return out
		}
		return append(out, Candidate{
			Field:      field,
			Value:      value,
			Confidence: scrapeConfidence,
			Source:     model.SourceWebScrape,
			SourceURL:  doc.URL,
		})
	}

	var out []Candidate
	out = add(out, model.FieldConcentration, doc.Concentration)
	out = add(out, model.FieldFamily, doc.Family)
	out = add(out, model.FieldGender, doc.Gender)
	out = add(out, model.FieldDescription, doc.Description)
	out = add(out, model.FieldTopNotes, doc.TopNotes)
	out = add(out, model.FieldMiddleNotes, doc.MiddleNotes)
	out = add(out, model.FieldBaseNotes, doc.BaseNotes)
	out = add(out, model.FieldMainAccords, doc.MainAccords)
	out = add(out, model.FieldLongevity, doc.Longevity)
	out = add(out, model.FieldSillage, doc.Sillage)
	out = add(out, model.FieldImage, doc.ImageURL)

	if len(doc.Pricing) > 0 {
		var pricing map[string]any
		if err := json.Unmarshal(doc.Pricing, &pricing); err == nil && len(pricing) > 0 {
			out = append(out, Candidate{
				Field:      model.FieldPricing,
				Value:      pricing,
				Confidence: scrapeConfidence,
				Source:     model.SourceWebScrape,
				SourceURL:  doc.URL,
			})
		}
	}
	return out
}
