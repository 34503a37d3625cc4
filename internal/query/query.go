// Package query expands a raw user question into a small ordered set of
// search query candidates. The first candidate is always the normalized
// original; further candidates augment it with canonical terms recovered
// from regexp rules and a fuzzy typo lexicon, so the search index sees the
// vocabulary its entries were written in.
package query

import (
	"regexp"
	"strings"

	"github.com/xrash/smetrics"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRE  = regexp.MustCompile(`\s+`)
	bulletRE = regexp.MustCompile(`^[-•*]+\s*`)
	tokenRE  = regexp.MustCompile(`[a-zA-Z0-9.\-]+|[\p{Cyrillic}]+`)
)

// minFuzzyTokenLen skips short tokens which would otherwise match half the
// lexicon by accident.
const minFuzzyTokenLen = 4

// Generator builds query candidates from an immutable rule set.
type Generator struct {
	rules Rules
}

// NewGenerator creates a Generator over the given rules.
func NewGenerator(rules Rules) *Generator {
	return &Generator{rules: rules}
}

// Normalize applies NFKC normalization, strips a leading bullet marker, and
// collapses whitespace runs to single spaces.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	s = bulletRE.ReplaceAllString(s, "")
	s = spaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Candidates returns the ordered unique query candidates for a raw question.
// The result is empty only for empty input; otherwise its first element is
// the normalized original. When no rule or fuzzy match fires the result is
// exactly that single element.
func (g *Generator) Candidates(raw string) []string {
	q := Normalize(raw)
	if q == "" {
		return nil
	}
	qLow := strings.ToLower(q)

	var added []string
	for _, rule := range g.rules.Terms {
		if rule.Pattern.MatchString(qLow) {
			added = append(added, rule.Canonical...)
		}
	}
	added = append(added, g.fuzzyMatches(q)...)

	// Dedupe case-insensitively and never re-add a token the user already
	// typed.
	seen := make(map[string]struct{}, len(added))
	kept := added[:0]
	for _, tok := range added {
		low := strings.ToLower(tok)
		if _, dup := seen[low]; dup {
			continue
		}
		seen[low] = struct{}{}
		if strings.Contains(qLow, low) {
			continue
		}
		kept = append(kept, tok)
	}

	if len(kept) == 0 {
		return []string{q}
	}
	return []string{q, q + " " + strings.Join(kept, " ")}
}

// fuzzyMatches scans the question tokens for near-misses of lexicon terms.
func (g *Generator) fuzzyMatches(q string) []string {
	var matched []string
	for _, tok := range tokenRE.FindAllString(q, -1) {
		tok = strings.ToLower(tok)
		if len([]rune(tok)) < minFuzzyTokenLen {
			continue
		}
		for _, canon := range g.rules.FuzzyLexicon {
			if similarity(tok, strings.ToLower(canon)) >= g.rules.FuzzyThreshold {
				matched = append(matched, canon)
			}
		}
	}
	return matched
}

// similarity is a normalized edit-similarity ratio in [0,1]. With
// substitution cost 2 the Wagner-Fischer distance makes the ratio
// equivalent to the classic difflib-style 2*M/T measure.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	d := smetrics.WagnerFischer(a, b, 1, 1, 2)
	return 1 - float64(d)/float64(total)
}
