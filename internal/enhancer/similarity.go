package enhancer

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\w+`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {},
}

func keywordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

// KeywordSimilarity is the Jaccard index of the two texts' keyword sets
// after lowercasing and stopword removal. Either side empty yields 0.
func KeywordSimilarity(a, b string) float64 {
	setA, setB := keywordSet(a), keywordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
