package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeIdentifier trims s, collapses internal whitespace to a single underscore and lower-cases it.
func NormalizeIdentifier(s string) string {
	collapsed := strings.Join(strings.Fields(s), "_")
	return cases.Lower(language.Und).String(collapsed)
}

// Normalize stringifies a scalar value and normalises it into an identifier.
// It reports false for non-scalar inputs and inputs that normalise to an empty string.
func Normalize(v Value) (string, bool) {
	if !v.IsScalar() {
		return "", false
	}
	id := NormalizeIdentifier(v.String())
	return id, id != ""
}
