package model

import (
	"reflect"
	"strings"
	"time"
)

// Tracked field names. These are the enhanceable attributes of a canonical
// record; name and brand are identity attributes and are not part of the
// tracked set.
const (
	FieldConcentration = "concentration"
	FieldFamily        = "family"
	FieldGender        = "gender"
	FieldDescription   = "description"
	FieldTopNotes      = "top_notes"
	FieldMiddleNotes   = "middle_notes"
	FieldBaseNotes     = "base_notes"
	FieldMainAccords   = "main_accords"
	FieldLongevity     = "longevity"
	FieldSillage       = "sillage"
	FieldPricing       = "pricing"
	FieldImage         = "image"
)

// TrackedFields is the fixed 12-field set used for completeness scoring and
// enhancement eligibility.
var TrackedFields = []string{
	FieldConcentration,
	FieldFamily,
	FieldGender,
	FieldDescription,
	FieldTopNotes,
	FieldMiddleNotes,
	FieldBaseNotes,
	FieldMainAccords,
	FieldLongevity,
	FieldSillage,
	FieldPricing,
	FieldImage,
}

var trackedSet = func() map[string]bool {
	m := make(map[string]bool, len(TrackedFields))
	for _, f := range TrackedFields {
		m[f] = true
	}
	return m
}()

// IsTrackedField reports whether name is one of the tracked fields.
func IsTrackedField(name string) bool {
	return trackedSet[name]
}

// FieldState holds the current value of a single tracked field along with
// its provenance and verification status.
type FieldState struct {
	Value      any       `json:"value,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Verified   bool      `json:"verified,omitempty"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// FieldSet maps tracked field names to their current state.
type FieldSet map[string]FieldState

// Filled returns the number of tracked fields holding a non-empty value.
func (fs FieldSet) Filled() int {
	n := 0
	for _, name := range TrackedFields {
		if st, ok := fs[name]; ok && !IsEmptyValue(st.Value) {
			n++
		}
	}
	return n
}

// Clone returns a shallow copy of the field set.
func (fs FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// IsEmptyValue reports whether v counts as "no value" for completeness and
// merge-eligibility purposes.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// ValuesEqual reports whether two field values are the same. String
// comparison ignores surrounding whitespace. String lists compare
// element-wise whatever their concrete slice type: stored values round-trip
// through JSON as []any while candidates arrive as []string, and that
// representation difference must not read as a change. Everything else falls
// back to deep equality.
func ValuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.TrimSpace(as) == strings.TrimSpace(bs)
	}
	al, aok := stringSlice(a)
	bl, bok := stringSlice(b)
	if aok && bok {
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if strings.TrimSpace(al[i]) != strings.TrimSpace(bl[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// stringSlice coerces []string or an all-string []any to []string.
func stringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// FragranceRecord is the canonical entity for a single fragrance, keyed by
// a globally unique external identifier (the source URL in the seed
// dataset). At most one record exists per external key.
type FragranceRecord struct {
	ID                string     `json:"id"`
	ExternalKey       string     `json:"external_key"`
	Name              string     `json:"name"`
	Brand             string     `json:"brand"`
	Fields            FieldSet   `json:"fields"`
	CompletenessScore float64    `json:"completeness_score"`
	LastEnhancedAt    *time.Time `json:"last_enhanced_at,omitempty"`
	// Version increments on every write and guards conditional updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field returns the state of a tracked field, if present.
func (r *FragranceRecord) Field(name string) (FieldState, bool) {
	if r.Fields == nil {
		return FieldState{}, false
	}
	st, ok := r.Fields[name]
	return st, ok
}
