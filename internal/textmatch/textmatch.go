// Package textmatch provides case-folded keyword matching and tokenization
// shared by the qualification filter and the QA scorer.
package textmatch

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns s case-folded with surrounding whitespace trimmed and inner
// whitespace runs collapsed to one space.
func Fold(s string) string {
	// Casers hold state; one per call keeps Fold safe for concurrent use.
	folded := cases.Fold().String(s)
	return strings.Join(strings.Fields(folded), " ")
}

// Keywords is an immutable, pre-folded keyword set.
type Keywords struct {
	terms []string
}

// NewKeywords folds and de-duplicates the given keywords. Blank entries are dropped.
func NewKeywords(words []string) Keywords {
	seen := make(map[string]bool, len(words))
	k := Keywords{terms: make([]string, 0, len(words))}
	for _, w := range words {
		f := Fold(w)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		k.terms = append(k.terms, f)
	}
	return k
}

// Len returns the number of distinct keywords.
func (k Keywords) Len() int { return len(k.terms) }

// Match returns the first keyword found as a substring of any text, or "".
func (k Keywords) Match(texts ...string) string {
	for _, t := range texts {
		f := Fold(t)
		if f == "" {
			continue
		}
		for _, term := range k.terms {
			if strings.Contains(f, term) {
				return term
			}
		}
	}
	return ""
}

// tokenRe matches price-like tokens ("$199", "$1,200.50", "20%") before
// plain words so the currency and percent markers survive.
var tokenRe = regexp.MustCompile(`\$\d+(?:[.,]\d+)*|\d+(?:[.,]\d+)*%|[\p{L}\p{N}]+`)

// Tokenize splits s into folded tokens.
func Tokenize(s string) []string {
	return tokenRe.FindAllString(Fold(s), -1)
}

// StopWords is a folded stop-word set.
type StopWords map[string]struct{}

// NewStopWords builds a StopWords set.
func NewStopWords(words []string) StopWords {
	s := make(StopWords, len(words))
	for _, w := range words {
		if f := Fold(w); f != "" {
			s[f] = struct{}{}
		}
	}
	return s
}

// Contains reports whether the folded token is a stop word.
func (s StopWords) Contains(tok string) bool {
	_, ok := s[tok]
	return ok
}

// TermSet tokenizes every text and returns the distinct tokens that are not
// stop words. Single-character words are dropped; numbers are kept.
func TermSet(stop StopWords, texts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range texts {
		for _, tok := range Tokenize(t) {
			if stop.Contains(tok) {
				continue
			}
			if len([]rune(tok)) == 1 && !isDigit(tok[0]) {
				continue
			}
			set[tok] = struct{}{}
		}
	}
	return set
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
