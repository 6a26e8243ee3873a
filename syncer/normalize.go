package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeText lower-cases and collapses whitespace so that cosmetic differences in
// extracted text do not change the content hash.
func NormalizeText(input string) string {
	return strings.ToLower(normalizeWhitespace(input))
}

func HashNormalized(normalized string, hexLen int) string {
	sum := sha256.Sum256([]byte(normalized))
	full := hex.EncodeToString(sum[:])
	if hexLen <= 0 || hexLen >= len(full) {
		return full
	}
	return full[:hexLen]
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
been before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its itself
just me more most my myself no nor not now of off on once only or other our ours ourselves out over own
same she should so some such than that the their theirs them themselves then there these they this those
through to too under until up very was we were what when where which while who whom why will with would
you your yours yourself yourselves www com org net html htm php asp aspx index`) {
		stopWords[w] = struct{}{}
	}
}

// ExtractTerms splits text into lower-cased word tokens, dropping stop words, tokens shorter
// than minLen and pure numbers. Order of first occurrence is kept; duplicates are dropped.
func ExtractTerms(text string, minLen, max int) []string {
	out := []string{}
	if max <= 0 {
		return out
	}
	seen := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len([]rune(f)) < minLen || isNumeric(f) {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) >= max {
			break
		}
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
