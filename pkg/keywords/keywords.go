// Package keywords matches free text against configurable vocabularies.
//
// Text and keywords are folded (lower-cased, diacritics removed) before
// comparison, so "Déjeuner" and "dejeuner" are the same word. A keyword
// matches when it starts at a word boundary; "appel" therefore matches
// "Appels clients" but not "rappel".
package keywords

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips combining marks.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Set is an unordered vocabulary.
type Set []string

// Match reports whether any keyword of s occurs in text.
func (s Set) Match(text string) bool {
	return s.matchFolded(Fold(text))
}

func (s Set) matchFolded(folded string) bool {
	for _, kw := range s {
		if containsWord(folded, Fold(kw)) {
			return true
		}
	}
	return false
}

// Rule maps a vocabulary to a value.
type Rule struct {
	Keywords Set `mapstructure:"keywords" yaml:"keywords"`
	Value    int `mapstructure:"value" yaml:"value"`
}

// Table is an ordered list of rules.
type Table []Rule

// Classify returns the highest Value among all rules matching text, or
// fallback when none match. Rule order only matters for Lookup.
func (t Table) Classify(text string, fallback int) int {
	folded := Fold(text)
	best, found := fallback, false
	for _, r := range t {
		if !r.Keywords.matchFolded(folded) {
			continue
		}
		if !found || r.Value > best {
			best = r.Value
			found = true
		}
	}
	return best
}

// Lookup returns the first rule matching text.
func (t Table) Lookup(text string) (Rule, bool) {
	folded := Fold(text)
	for _, r := range t {
		if r.Keywords.matchFolded(folded) {
			return r, true
		}
	}
	return Rule{}, false
}

func containsWord(folded, kw string) bool {
	if kw == "" {
		return false
	}
	from := 0
	for from <= len(folded)-len(kw) {
		i := strings.Index(folded[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		if i == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(folded[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
		from = i + 1
	}
	return false
}
