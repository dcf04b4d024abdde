package pipeline

import (
	"regexp"
	"strings"
)

// RatePattern is one named rate shape. The matcher is table-driven so adding
// a new shape is a one-line change.
type RatePattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// Ordered list of recognized rate shapes. Order fixes the primary
// classification when several shapes match.
var ratePatterns = []RatePattern{
	{"ad_valorem", regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*%(\s*ad\s*val(orem)?\.?)?$`)},
	{"specific_currency", regexp.MustCompile(`(?i)\$\s*\d+(\.\d+)?\s*(/|per\s)\s*[a-z0-9.]+`)},
	{"specific_unit", regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*/\s*(kg|g|t|liter|l|m3|m2|m|no\.|doz\.?|prs?\.?|head)\b`)},
	{"cents_specific", regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(¢|cents?)(\s*(/|per\s)\s*\S+)?`)},
	{"compound", regexp.MustCompile(`(?i)(%|¢|cents?)\s*\+|\+\s*\d+(\.\d+)?\s*(%|¢|cents?)`)},
	{"range", regexp.MustCompile(`(?i)\d+(\.\d+)?\s*%?\s*(-|–|\bto\b)\s*\d+(\.\d+)?\s*%`)},
	{"parenthetical", regexp.MustCompile(`\([A-Za-z0-9*+,.\s-]+\)`)},
	{"preferential_free", regexp.MustCompile(`(?i)\bfree\s*\(`)},
	{"preferential_rate", regexp.MustCompile(`(?i)\d+(\.\d+)?\s*%\s*\(`)},
	{"rate_or_specific", regexp.MustCompile(`(?i)\bor\b`)},
	{"footnote", regexp.MustCompile(`(?i)\b(see|note|chapter|subheading|heading)\b\s*\d|\b99\d{2}\.\d{2}`)},
	{"bare_numeric", regexp.MustCompile(`^\d+(\.\d+)?$`)},
}

var rateKeywords = map[string]struct{}{
	"free":   {},
	"exempt": {},
	"none":   {},
	"n/a":    {},
}

// NormalizeRateText collapses runs of whitespace and trims the text. All
// classification runs over this canonical form.
func NormalizeRateText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ClassifyRateText returns the names of every pattern the text matches, in
// table order.
func ClassifyRateText(text string) []string {
	normalized := NormalizeRateText(text)
	if normalized == "" {
		return nil
	}

	var matches []string
	for _, pattern := range ratePatterns {
		if pattern.Pattern.MatchString(normalized) {
			matches = append(matches, pattern.Name)
		}
	}
	return matches
}

// LikelyRate reports whether the text plausibly denotes a duty rate: empty
// text, a known free/exempt keyword, a see-reference, or at least one
// pattern match.
func LikelyRate(text string) bool {
	normalized := NormalizeRateText(text)
	if normalized == "" {
		return true
	}

	lowered := strings.ToLower(normalized)
	if _, ok := rateKeywords[lowered]; ok {
		return true
	}
	if strings.HasPrefix(lowered, "see ") {
		return true
	}

	return len(ClassifyRateText(normalized)) > 0
}

// AmbiguousRate reports whether the text matches more than one rate shape
// simultaneously.
func AmbiguousRate(text string) bool {
	return len(ClassifyRateText(text)) > 1
}
