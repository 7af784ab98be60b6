package similarity

import (
	"context"
	"math"
	"strings"
)

// TFIDF scores texts by cosine similarity of tf-idf vectors fit on the
// pair itself. Terms appearing in only one of the two documents get a
// higher idf weight, so shared distinctive vocabulary dominates the
// score while boilerplate shared by both is discounted less.
type TFIDF struct{}

// Name identifies the backend in logs and stats.
func (TFIDF) Name() string { return "tfidf" }

// Score builds term-count vectors for both texts, weights them with a
// smoothed idf over the two-document corpus, and returns their cosine.
// Either text empty scores 0.
func (TFIDF) Score(_ context.Context, a, b string) (float64, error) {
	docA, docB := termCounts(a), termCounts(b)
	if len(docA) == 0 || len(docB) == 0 {
		return 0, nil
	}

	// idf(t) = ln((1+n)/(1+df(t))) + 1 with n=2 documents.
	idf := func(term string) float64 {
		df := 0
		if docA[term] > 0 {
			df++
		}
		if docB[term] > 0 {
			df++
		}
		return math.Log(3.0/float64(1+df)) + 1
	}

	var dot, sumA2, sumB2 float64
	for term, ca := range docA {
		w := idf(term)
		wa := float64(ca) * w
		sumA2 += wa * wa
		if cb := docB[term]; cb > 0 {
			dot += wa * float64(cb) * w
		}
	}
	for term, cb := range docB {
		wb := float64(cb) * idf(term)
		sumB2 += wb * wb
	}
	if sumA2 == 0 || sumB2 == 0 {
		return 0, nil
	}
	return clamp01(dot / (math.Sqrt(sumA2) * math.Sqrt(sumB2))), nil
}

func termCounts(s string) map[string]int {
	fields := strings.Fields(strings.ToLower(s))
	counts := make(map[string]int, len(fields))
	for _, w := range fields {
		counts[w]++
	}
	return counts
}
