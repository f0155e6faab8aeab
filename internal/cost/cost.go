// Package cost estimates per-request enhancement cost and enforces batch
// budget caps.
package cost

import (
	"sync"

	"github.com/scentdex/catalog-cli/internal/model"
)

// Rates holds estimated USD cost per enhancement source invocation.
type Rates struct {
	AIAnalysis float64 `yaml:"ai_analysis" mapstructure:"ai_analysis"`
	WebScrape  float64 `yaml:"web_scrape" mapstructure:"web_scrape"`
}

// DefaultRates returns the stock per-source cost estimates.
func DefaultRates() Rates {
	return Rates{
		AIAnalysis: 0.02,
		WebScrape:  0.005,
	}
}

// Estimator computes expected cost for a request before it is dequeued.
type Estimator struct {
	rates Rates
}

// NewEstimator creates an Estimator with the given rates.
func NewEstimator(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

// Estimate returns the expected cost of processing one request of the given
// type. Hybrid requests fan out to both sources; manual requests cost nothing.
func (e *Estimator) Estimate(t model.RequestType) float64 {
	switch t {
	case model.RequestTypeAIAnalysis:
		return e.rates.AIAnalysis
	case model.RequestTypeWebScrape:
		return e.rates.WebScrape
	case model.RequestTypeHybrid:
		return e.rates.AIAnalysis + e.rates.WebScrape
	}
	return 0
}

// DefaultMaxItems caps batch selection when the caller does not set a limit.
const DefaultMaxItems = 50

// Limits holds the batch budget caps.
type Limits struct {
	MaxItems       int     `yaml:"max_items" mapstructure:"max_items"`
	MaxCostPerItem float64 `yaml:"max_cost_per_item" mapstructure:"max_cost_per_item"`
	MaxTotalCost   float64 `yaml:"max_total_cost" mapstructure:"max_total_cost"`
}

// Budget tracks accumulated spend against Limits across a processing batch.
// Safe for concurrent use by worker goroutines.
type Budget struct {
	limits Limits

	mu    sync.Mutex
	items int
	spent float64
}

// NewBudget creates a Budget enforcing the given limits. Zero-valued limits
// mean unlimited for that dimension.
func NewBudget(limits Limits) *Budget {
	return &Budget{limits: limits}
}

// TryReserve attempts to claim room for one item with the given estimated
// cost. It returns false when the item would breach any cap; the caller must
// then leave pending work untouched rather than cancel it.
func (b *Budget) TryReserve(estimate float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxItems > 0 && b.items >= b.limits.MaxItems {
		return false
	}
	if b.limits.MaxCostPerItem > 0 && estimate > b.limits.MaxCostPerItem {
		return false
	}
	if b.limits.MaxTotalCost > 0 && b.spent+estimate > b.limits.MaxTotalCost {
		return false
	}

	b.items++
	b.spent += estimate
	return true
}

// Unreserve gives back an unused reservation, returning both the item slot
// and the estimated cost. Callers use it when a claim is lost before any work
// happens; a reservation whose work ran goes through Settle instead.
func (b *Budget) Unreserve(estimate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.items > 0 {
		b.items--
	}
	b.spent -= estimate
	if b.spent < 0 {
		b.spent = 0
	}
}

// Settle replaces a reservation's estimate with the actual cost incurred. The
// item slot stays consumed.
func (b *Budget) Settle(estimate, actual float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += actual - estimate
	if b.spent < 0 {
		b.spent = 0
	}
}

// Remaining returns the unspent portion of the total-cost cap. Unlimited
// budgets report a negative value.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limits.MaxTotalCost <= 0 {
		return -1
	}
	return b.limits.MaxTotalCost - b.spent
}

// Items returns the number of items reserved so far.
func (b *Budget) Items() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items
}

// Spent returns the accumulated cost so far.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}
