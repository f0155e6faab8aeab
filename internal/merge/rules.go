// Package merge holds the pure decision logic for what may be written to a
// canonical record: field eligibility, change classification, same-field
// winner selection, and completeness scoring.
package merge

import (
	"time"

	"github.com/scentdex/catalog-cli/internal/model"
)

// Rules parameterizes the merge eligibility policy.
type Rules struct {
	// CorrectionMargin is the confidence gain a correction must show over the
	// current field value before it may replace it.
	CorrectionMargin float64
	// PricingStaleAfter is how old pricing data must be before an update
	// change becomes eligible.
	PricingStaleAfter time.Duration
}

// DefaultRules returns the stock merge policy.
func DefaultRules() Rules {
	return Rules{
		CorrectionMargin:  0.15,
		PricingStaleAfter: 30 * 24 * time.Hour,
	}
}

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible bool
	Reason   string
}

func eligible(reason string) Decision   { return Decision{Eligible: true, Reason: reason} }
func ineligible(reason string) Decision { return Decision{Eligible: false, Reason: reason} }

// Eligible decides whether a candidate value may be written to a field.
// reqType is the type of the request proposing the write; current is the
// field's present state on the record.
func (r Rules) Eligible(reqType model.RequestType, field string, current model.FieldState, changeType model.ChangeType, newValue any, newConfidence float64, now time.Time) Decision {
	if !model.IsTrackedField(field) {
		return ineligible("unknown field")
	}
	if model.IsEmptyValue(newValue) {
		return ineligible("empty candidate value")
	}

	curEmpty := model.IsEmptyValue(current.Value)
	if !curEmpty && model.ValuesEqual(current.Value, newValue) {
		return ineligible("value unchanged")
	}

	// Verified fields accept writes only from manual requests, regardless of
	// confidence.
	if current.Verified && reqType.Automated() {
		return ineligible("verified field locked")
	}

	if curEmpty {
		return eligible("field empty")
	}
	if reqType == model.RequestTypeManual {
		return eligible("manual override")
	}

	switch changeType {
	case model.ChangeCorrection:
		if newConfidence-current.Confidence > r.CorrectionMargin {
			return eligible("confidence gain")
		}
		return ineligible("insufficient confidence gain")
	case model.ChangeUpdate:
		if field == model.FieldPricing && r.pricingStale(current, now) {
			return eligible("stale pricing")
		}
		return ineligible("data not stale")
	case model.ChangeEnhancement:
		return eligible("canonicalization")
	}
	return ineligible("occupied field")
}

// Classify derives the change type for a candidate against the field's
// current state. canonicalEqual means the candidate is the canonical form of
// the value already present (e.g. "EDT" → "Eau de Toilette").
func (r Rules) Classify(field string, current model.FieldState, canonicalEqual bool, now time.Time) model.ChangeType {
	if model.IsEmptyValue(current.Value) {
		return model.ChangeAddition
	}
	if canonicalEqual {
		return model.ChangeEnhancement
	}
	if field == model.FieldPricing && r.pricingStale(current, now) {
		return model.ChangeUpdate
	}
	return model.ChangeCorrection
}

func (r Rules) pricingStale(current model.FieldState, now time.Time) bool {
	if current.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(current.UpdatedAt) > r.PricingStaleAfter
}

// Source priority for same-field tie-breaking: manual > web_scrape > ai_analysis.
var sourcePriority = map[string]int{
	"manual":      3,
	"web_scrape":  2,
	"ai_analysis": 1,
}

// SourcePriority returns the tie-break rank of a candidate source. Unknown
// sources rank below all known ones.
func SourcePriority(source string) int {
	return sourcePriority[source]
}

// Better reports whether candidate a beats candidate b for the same field:
// higher confidence wins, ties break by source priority.
func Better(aConfidence float64, aSource string, bConfidence float64, bSource string) bool {
	if aConfidence != bConfidence {
		return aConfidence > bConfidence
	}
	return SourcePriority(aSource) > SourcePriority(bSource)
}
