package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a token whose
// Double Metaphone code overlaps the keyword's. Default: 0.80.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a token with no
// phonetic overlap. Default: 0.92.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher recognises single-word keywords that the transcriber misspelled,
// e.g. "sory" for "sorry" or "stoopid" for "stupid".
//
// A token matches a keyword when their Double Metaphone codes overlap and
// their Jaro-Winkler similarity reaches the phonetic threshold, or, without
// phonetic overlap, when the similarity alone reaches the stricter fuzzy
// threshold. Matcher is read-only after construction and safe for concurrent
// use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MatchToken reports whether any whitespace-separated token of text
// resembles keyword, and the best similarity score found. Multi-word
// keywords never match; callers use exact substring search for those.
func (m *Matcher) MatchToken(text, keyword string) (score float64, matched bool) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" || strings.ContainsRune(keyword, ' ') {
		return 0, false
	}
	kwCodes := metaphoneCodes(keyword)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		jw := matchr.JaroWinkler(tok, keyword, false)
		threshold := m.fuzzyThreshold
		if codesOverlap(metaphoneCodes(tok), kwCodes) {
			threshold = m.phoneticThreshold
		}
		if jw >= threshold && jw > score {
			score, matched = jw, true
		}
	}
	return score, matched
}

// metaphoneCodes returns the non-empty Double Metaphone codes of word.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
