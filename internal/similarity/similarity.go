// Package similarity scores how closely two texts agree.
//
// Three interchangeable backends implement the same Backend interface:
// word-set Jaccard, pairwise TF-IDF cosine, and dense embedding cosine
// via a local embedding server. Select picks the strongest backend
// available at construction time and logs the choice once.
package similarity

import (
	"context"
	"log/slog"
	"math"
)

// Backend scores a pair of texts on a [0,1] scale, where 1 means the
// texts express the same position and 0 means they share nothing.
type Backend interface {
	Name() string
	Score(ctx context.Context, a, b string) (float64, error)
}

// Select picks the strongest backend available at startup: dense
// embeddings when the provider answers its health probe, TF-IDF
// otherwise, Jaccard when even token weighting is unwanted. A non-empty
// override ("embedding", "tfidf", "jaccard") forces the choice; forcing
// "embedding" against an unreachable provider still falls back. The
// chosen backend is logged exactly once.
func Select(ctx context.Context, override string, provider *OllamaProvider, embCache EmbeddingCache, logger *slog.Logger) Backend {
	switch override {
	case "tfidf":
		logger.Info("similarity backend selected", "backend", "tfidf", "forced", true)
		return TFIDF{}
	case "jaccard":
		logger.Info("similarity backend selected", "backend", "jaccard", "forced", true)
		return Jaccard{}
	}

	if provider != nil && provider.Reachable(ctx) {
		b := NewEmbedding(provider, embCache)
		logger.Info("similarity backend selected", "backend", b.Name(), "model", provider.model)
		return b
	}
	if override == "embedding" {
		logger.Warn("embedding backend forced but provider unreachable, using tfidf")
	}

	logger.Info("similarity backend selected", "backend", "tfidf")
	return TFIDF{}
}

// Cosine returns the cosine similarity of two equal-length vectors,
// or 0 when lengths differ or either vector is zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
