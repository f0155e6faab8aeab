package provider

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/scentdex/catalog-cli/internal/model"
)

// SourceConfig is one scrape source entry in sources.yaml.
type SourceConfig struct {
	Name              string  `yaml:"name"`
	BaseURL           string  `yaml:"base_url"`
	UserAgent         string  `yaml:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	CostPerFetch      float64 `yaml:"cost_per_fetch"`
}

// LoadSources reads the scrape source chain from a YAML file. Entries missing
// throttle, timeout, or cost values inherit them from defaults.
//
// The file has a top-level "sources" key:
//
//	sources:
//	  - name: primary
//	    base_url: https://data.example.com
//	    requests_per_second: 2
//	  - name: mirror
//	    base_url: https://mirror.example.com
//	    timeout_secs: 10
func LoadSources(path string, defaults ScrapeOptions) ([]ScrapeOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: read sources %s", path)
	}

	var wrapper struct {
		Sources []SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "provider: parse sources %s", path)
	}
	if len(wrapper.Sources) == 0 {
		return nil, eris.Errorf("provider: %s defines no sources", path)
	}

	out := make([]ScrapeOptions, 0, len(wrapper.Sources))
	for i, src := range wrapper.Sources {
		if src.BaseURL == "" {
			return nil, eris.Errorf("provider: source %d (%q) has no base_url", i, src.Name)
		}
		opts := ScrapeOptions{
			BaseURL:           src.BaseURL,
			UserAgent:         src.UserAgent,
			RequestsPerSecond: src.RequestsPerSecond,
			CostPerFetch:      src.CostPerFetch,
			Timeout:           defaults.Timeout,
		}
		if opts.UserAgent == "" {
			opts.UserAgent = defaults.UserAgent
		}
		if opts.RequestsPerSecond <= 0 {
			opts.RequestsPerSecond = defaults.RequestsPerSecond
		}
		if src.TimeoutSecs > 0 {
			opts.Timeout = time.Duration(src.TimeoutSecs) * time.Second
		}
		if opts.CostPerFetch == 0 {
			opts.CostPerFetch = defaults.CostPerFetch
		}
		out = append(out, opts)
	}
	return out, nil
}

// ScrapeChain tries scrape sources in order until one yields candidates. All
// sources publish under the single web_scrape identity; listing order is
// trust order.
type ScrapeChain struct {
	sources []*ScrapeProvider
}

// NewScrapeChain builds a chain over the given source options.
func NewScrapeChain(sources []ScrapeOptions) *ScrapeChain {
	c := &ScrapeChain{}
	for _, opts := range sources {
		c.sources = append(c.sources, NewScrapeProvider(opts))
	}
	return c
}

func (c *ScrapeChain) Name() string { return model.SourceWebScrape }

// CostPerFetch charges the primary source's rate. Fallback fetches are
// budgeted the same way.
func (c *ScrapeChain) CostPerFetch() float64 {
	if len(c.sources) == 0 {
		return 0
	}
	return c.sources[0].CostPerFetch()
}

func (c *ScrapeChain) FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg FetchConfig) ([]Candidate, error) {
	var lastErr error
	for _, src := range c.sources {
		candidates, err := src.FetchCandidates(ctx, rec, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			zap.L().Warn("scrape source failed, trying next",
				zap.String("base_url", src.opts.BaseURL),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
