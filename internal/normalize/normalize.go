// Package normalize canonicalizes source vocabulary before candidate values
// are scored: concentration abbreviations, gender terms, brand casing, and
// note lists.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/scentdex/catalog-cli/internal/model"
)

var titleCaser = cases.Title(language.English)

// concentrations maps lowercase abbreviations and variants to canonical names.
var concentrations = map[string]string{
	"edt":                "Eau de Toilette",
	"eau de toilette":    "Eau de Toilette",
	"edp":                "Eau de Parfum",
	"eau de parfum":      "Eau de Parfum",
	"edc":                "Eau de Cologne",
	"cologne":            "Eau de Cologne",
	"eau de cologne":     "Eau de Cologne",
	"parfum":             "Parfum",
	"perfume":            "Parfum",
	"extrait":            "Extrait de Parfum",
	"extrait de parfum":  "Extrait de Parfum",
	"eau fraiche":        "Eau Fraiche",
	"eau fraîche":        "Eau Fraiche",
	"attar":              "Attar",
	"perfume oil":        "Perfume Oil",
	"body mist":          "Body Mist",
}

// Concentration maps an abbreviation or variant spelling to its canonical
// name. Unknown inputs are returned trimmed but otherwise untouched.
func Concentration(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, ".", "")
	if canonical, ok := concentrations[key]; ok {
		return canonical
	}
	return strings.TrimSpace(s)
}

// genders maps source terms to the canonical gender enum
// {male, female, unisex}.
var genders = map[string]string{
	"male":   "male",
	"men":    "male",
	"man":    "male",
	"him":    "male",
	"female": "female",
	"women":  "female",
	"woman":  "female",
	"her":    "female",
	"unisex": "unisex",
	"shared": "unisex",
	"all":    "unisex",
}

// Gender maps a source gender term to the canonical enum. Unknown terms are
// returned lowercased so validation can flag them.
func Gender(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := genders[key]; ok {
		return canonical
	}
	return key
}

// ValidGender reports whether s is a canonical gender value.
func ValidGender(s string) bool {
	switch s {
	case "male", "female", "unisex":
		return true
	}
	return false
}

// Brand normalizes a brand slug to hyphenated title case, matching the seed
// dataset convention ("dolce-gabbana" → "Dolce-Gabbana").
func Brand(s string) string {
	spaced := strings.ReplaceAll(strings.TrimSpace(s), "-", " ")
	return strings.ReplaceAll(titleCaser.String(spaced), " ", "-")
}

// Notes splits a comma-separated note list, trimming entries and dropping
// empties and "unknown" placeholders.
func Notes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.EqualFold(p, "unknown") {
			continue
		}
		out = append(out, p)
	}
	return out
}

func cleanList(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "unknown") {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Value normalizes a candidate value for the given tracked field.
func Value(field string, v any) any {
	switch field {
	case model.FieldConcentration:
		if s, ok := v.(string); ok {
			return Concentration(s)
		}
	case model.FieldGender:
		if s, ok := v.(string); ok {
			return Gender(s)
		}
	case model.FieldTopNotes, model.FieldMiddleNotes, model.FieldBaseNotes, model.FieldMainAccords:
		switch t := v.(type) {
		case string:
			return Notes(t)
		case []string:
			return cleanList(t)
		case []any:
			strs := make([]string, 0, len(t))
			for _, e := range t {
				if s, ok := e.(string); ok {
					strs = append(strs, s)
				}
			}
			return cleanList(strs)
		}
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

// CanonicalEqual reports whether a and b normalize to the same value for the
// given field. Used to classify a candidate as an enhancement (same meaning,
// canonical form) rather than a correction.
func CanonicalEqual(field string, a, b any) bool {
	return model.ValuesEqual(Value(field, a), Value(field, b))
}
