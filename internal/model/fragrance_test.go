package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal strings", "woody", "woody", true},
		{"strings trimmed", " woody ", "woody", true},
		{"different strings", "woody", "citrus", false},
		{"string lists", []string{"Lavender", "Rose"}, []string{"Lavender", "Rose"}, true},
		// Stored fields round-trip through JSON as []any; candidates are []string.
		{"json list vs string list", []any{"Lavender", "Rose"}, []string{"Lavender", "Rose"}, true},
		{"string list vs json list", []string{"Lavender"}, []any{"Lavender"}, true},
		{"list elements trimmed", []any{" Lavender"}, []string{"Lavender"}, true},
		{"different list lengths", []any{"Lavender"}, []string{"Lavender", "Rose"}, false},
		{"different list elements", []any{"Lavender"}, []string{"Rose"}, false},
		{"mixed-type json list", []any{"Lavender", 7}, []string{"Lavender", "7"}, false},
		{"maps deep equal", map[string]any{"amount": 105.0}, map[string]any{"amount": 105.0}, true},
		{"maps differ", map[string]any{"amount": 105.0}, map[string]any{"amount": 99.0}, false},
		{"string vs list", "Lavender", []string{"Lavender"}, false},
		{"nils", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestFieldSetFilled(t *testing.T) {
	fs := FieldSet{
		FieldFamily:   {Value: "woody"},
		FieldGender:   {Value: ""},
		FieldTopNotes: {Value: []any{}},
		FieldSillage:  {Value: "strong"},
	}
	assert.Equal(t, 2, fs.Filled(), "blank and empty-list values do not count")
}
