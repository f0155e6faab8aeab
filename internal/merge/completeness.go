package merge

import "github.com/scentdex/catalog-cli/internal/model"

// Completeness scores a record's field set as the percentage of the tracked
// field set holding a value, 0–100.
func Completeness(fields model.FieldSet) float64 {
	total := len(model.TrackedFields)
	if total == 0 {
		return 0
	}
	return float64(fields.Filled()) / float64(total) * 100
}
