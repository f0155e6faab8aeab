package store

import (
	"time"

	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/normalize"
)

// newFieldSet builds the field set for a freshly created record from
// candidate values, dropping empties and unknown fields.
func newFieldSet(in UpsertInput, now time.Time) model.FieldSet {
	fields := make(model.FieldSet, len(in.Fields))
	for _, name := range model.TrackedFields {
		cand, ok := in.Fields[name]
		if !ok || model.IsEmptyValue(cand.Value) {
			continue
		}
		fields[name] = model.FieldState{
			Value:      normalize.Value(name, cand.Value),
			Confidence: cand.Confidence,
			Source:     cand.Source,
			UpdatedAt:  now,
		}
	}
	return fields
}

// evaluateUpsert runs the enhance path decision for an existing record:
// each candidate field is classified and checked against the merge rules.
// It returns the merged field set and the names of fields that changed, in
// tracked-field order.
func evaluateUpsert(rules merge.Rules, rec *model.FragranceRecord, in UpsertInput, now time.Time) (model.FieldSet, []string) {
	merged := rec.Fields.Clone()
	var updated []string

	for _, name := range model.TrackedFields {
		cand, ok := in.Fields[name]
		if !ok {
			continue
		}
		value := normalize.Value(name, cand.Value)
		if model.IsEmptyValue(value) {
			continue
		}

		current := merged[name]
		canonicalEqual := !model.IsEmptyValue(current.Value) &&
			normalize.CanonicalEqual(name, current.Value, value)
		changeType := rules.Classify(name, current, canonicalEqual, now)

		dec := rules.Eligible(in.RequestType, name, current, changeType, value, cand.Confidence, now)
		if !dec.Eligible {
			continue
		}

		merged[name] = model.FieldState{
			Value:      value,
			Confidence: cand.Confidence,
			Verified:   current.Verified,
			Source:     cand.Source,
			UpdatedAt:  now,
		}
		updated = append(updated, name)
	}

	return merged, updated
}

// derived computes the denormalized columns maintained alongside the field
// set JSON: completeness score, verified field count, and the pricing
// timestamp used by the outdated_pricing smart-job predicate.
func derived(fields model.FieldSet) (completeness float64, verifiedCount int, pricingUpdatedAt *time.Time) {
	completeness = merge.Completeness(fields)
	for _, name := range model.TrackedFields {
		st, ok := fields[name]
		if !ok {
			continue
		}
		if st.Verified {
			verifiedCount++
		}
	}
	if st, ok := fields[model.FieldPricing]; ok && !model.IsEmptyValue(st.Value) && !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		pricingUpdatedAt = &t
	}
	return completeness, verifiedCount, pricingUpdatedAt
}
