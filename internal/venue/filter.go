// Package venue parses venue filters and matches venue text against them
// without regard to case or diacritics.
package venue

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var splitRe = regexp.MustCompile(`;+|\s{2,}`)

// Letters that NFD leaves intact.
var undecomposable = strings.NewReplacer(
	"ø", "o", "Ø", "o",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"ß", "ss",
	"đ", "d", "Đ", "d",
	"ł", "l", "Ł", "l",
	"ħ", "h", "Ħ", "h",
	"þ", "th", "Þ", "th",
)

// Fold lower-cases s, strips combining marks and maps letters without a
// canonical decomposition to their ASCII base. Whitespace runs collapse to
// one space.
func Fold(s string) string {
	s = undecomposable.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Parse splits a free-text venue input on semicolons or runs of two or more
// whitespace characters. Empty entries are dropped.
func Parse(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, part := range splitRe.Split(input, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := Fold(part)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, part)
	}
	return out
}

// Filter is a parsed, pre-folded venue filter. The zero value matches
// everything.
type Filter struct {
	raw    string
	terms  []string
	folded []string
}

// NewFilter parses input into a Filter.
func NewFilter(input string) Filter {
	terms := Parse(input)
	folded := make([]string, len(terms))
	for i, t := range terms {
		folded[i] = Fold(t)
	}
	return Filter{raw: input, terms: terms, folded: folded}
}

// Disabled reports whether the filter accepts everything.
func (f Filter) Disabled() bool {
	return len(f.terms) == 0
}

// Terms returns the parsed filter terms.
func (f Filter) Terms() []string {
	return f.terms
}

// String returns the original filter input.
func (f Filter) String() string {
	return f.raw
}

// Match reports whether text contains any filter term.
func (f Filter) Match(text string) bool {
	_, ok := f.MatchTerm(text)
	return ok
}

// MatchTerm returns the first term contained in text.
func (f Filter) MatchTerm(text string) (string, bool) {
	if f.Disabled() {
		return "", true
	}
	haystack := Fold(text)
	if haystack == "" {
		return "", false
	}
	for i, needle := range f.folded {
		if strings.Contains(haystack, needle) {
			return f.terms[i], true
		}
	}
	return "", false
}
