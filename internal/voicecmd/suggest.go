package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Suggester finds the declared value closest to a rejected argument, e.g.
// "Nira" for "Niru". It is used for diagnostics only; a suggestion is never
// applied.
//
// Candidates sharing a Double Metaphone code with the input are ranked by
// Jaro-Winkler similarity and accepted above the phonetic threshold. Without a
// phonetic candidate, pure Jaro-Winkler similarity must exceed the higher
// fuzzy threshold.
//
// Suggester is read-only after construction and safe for concurrent use.
type Suggester struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewSuggester returns a Suggester with thresholds 0.70 (phonetic) and 0.85
// (fuzzy).
func NewSuggester() *Suggester {
	return &Suggester{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// Suggest returns the best candidate for input, or ok=false.
func (s *Suggester) Suggest(input string, candidates []string) (best string, score float64, ok bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" || len(candidates) == 0 {
		return "", 0, false
	}
	inTokens := strings.Fields(in)
	inCodes := metaphoneCodes(inTokens)

	var phonetic bool
	for _, c := range candidates {
		cl := strings.ToLower(strings.TrimSpace(c))
		if cl == "" {
			continue
		}
		cTokens := strings.Fields(cl)
		jw := similarity(inTokens, cTokens, in, cl)

		if overlaps(inCodes, metaphoneCodes(cTokens)) {
			if jw >= s.phoneticThreshold && (!phonetic || jw > score) {
				best, score, phonetic = c, jw, true
			}
			continue
		}
		if !phonetic && jw >= s.fuzzyThreshold && jw > score {
			best, score = c, jw
		}
	}
	return best, score, best != ""
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
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

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair. Multi-word modes such as
// "Deep Research" are matched by either word.
func similarity(inTokens, cTokens []string, in, c string) float64 {
	score := matchr.JaroWinkler(in, c, false)
	if len(inTokens) > 1 || len(cTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(cTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range inTokens {
		for _, b := range cTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
