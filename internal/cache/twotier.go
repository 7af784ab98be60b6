package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/gogi/internal/telemetry"
)

// EmbeddingVersion keys the embedding tier. Bumping it after a model change
// makes every cached vector unreachable; the operator clears the rest with a
// restart. Embeddings are never invalidated by decision writes.
const EmbeddingVersion = "v1"

// QueryEntry is one cached retrieval result: the decision id and its score.
// Nodes are re-materialized from the store on hit, so cached entries stay
// valid even if node payloads grow new fields.
type QueryEntry struct {
	DecisionID uuid.UUID `json:"decision_id"`
	Score      float64   `json:"score"`
}

// TwoTierStats reports per-tier and combined cache statistics.
type TwoTierStats struct {
	Queries          Stats     `json:"queries"`
	Embeddings       Stats     `json:"embeddings"`
	CombinedHitRate  float64   `json:"combined_hit_rate"`
	LastInvalidation time.Time `json:"last_invalidation,omitzero"`
}

// TwoTier combines the query cache (L1: TTL, event-invalidated) with the
// embedding cache (L2: permanent, version-keyed).
type TwoTier struct {
	queries    *LRU[[]QueryEntry]
	embeddings *LRU[[]float64]
	queryTTL   time.Duration
	logger     *slog.Logger

	hits   metric.Int64Counter
	misses metric.Int64Counter

	mu               sync.Mutex
	lastInvalidation time.Time
}

// NewTwoTier builds both tiers. queryTTL <= 0 disables L1 expiry.
func NewTwoTier(querySize int, queryTTL time.Duration, embeddingSize int, logger *slog.Logger) *TwoTier {
	meter := telemetry.Meter("gogi/cache")
	hits, _ := meter.Int64Counter("gogi.cache.hits")
	misses, _ := meter.Int64Counter("gogi.cache.misses")
	return &TwoTier{
		queries:    NewLRU[[]QueryEntry](querySize),
		embeddings: NewLRU[[]float64](embeddingSize),
		queryTTL:   queryTTL,
		logger:     logger,
		hits:       hits,
		misses:     misses,
	}
}

func (t *TwoTier) record(tier string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("tier", tier))
	if hit {
		t.hits.Add(context.Background(), 1, attrs)
	} else {
		t.misses.Add(context.Background(), 1, attrs)
	}
}

// QueryKey derives the L1 key for a retrieval request.
func QueryKey(question string, threshold float64, maxResults int) string {
	sum := sha256.Sum256([]byte(question))
	return fmt.Sprintf("%x|%.4f|%d", sum, threshold, maxResults)
}

// EmbeddingKey derives the L2 key for a text.
func EmbeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x|%s", sum, EmbeddingVersion)
}

// GetQuery looks up a cached retrieval result.
func (t *TwoTier) GetQuery(key string) ([]QueryEntry, bool) {
	entries, ok := t.queries.Get(key)
	t.record("query", ok)
	return entries, ok
}

// PutQuery caches a retrieval result with the configured TTL.
func (t *TwoTier) PutQuery(key string, entries []QueryEntry) {
	t.queries.PutTTL(key, entries, t.queryTTL)
}

// GetEmbedding looks up a cached vector.
func (t *TwoTier) GetEmbedding(text string) ([]float64, bool) {
	vec, ok := t.embeddings.Get(EmbeddingKey(text))
	t.record("embedding", ok)
	return vec, ok
}

// PutEmbedding caches a vector permanently (until evicted by capacity).
func (t *TwoTier) PutEmbedding(text string, vec []float64) {
	t.embeddings.Put(EmbeddingKey(text), vec)
}

// InvalidateQueries empties L1 and records the invalidation time. L2 is
// untouched: embeddings are immutable with respect to decision writes.
func (t *TwoTier) InvalidateQueries(reason string) {
	t.queries.Clear()

	t.mu.Lock()
	t.lastInvalidation = time.Now()
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Debug("query cache invalidated", "reason", reason)
	}
}

// LastInvalidation returns when L1 was last cleared (zero if never).
func (t *TwoTier) LastInvalidation() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastInvalidation
}

// Stats reports both tiers plus the combined hit rate.
func (t *TwoTier) Stats() TwoTierStats {
	q := t.queries.Stats()
	e := t.embeddings.Stats()

	s := TwoTierStats{
		Queries:          q,
		Embeddings:       e,
		LastInvalidation: t.LastInvalidation(),
	}
	if total := q.Hits + q.Misses + e.Hits + e.Misses; total > 0 {
		s.CombinedHitRate = float64(q.Hits+e.Hits) / float64(total)
	}
	return s
}
