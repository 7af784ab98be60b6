// Package retriever finds past decisions relevant to a new question.
//
// Retrieval is a linear scan over the most recent decisions scored by the
// configured similarity backend. Results are cached in the query tier;
// concurrent identical queries collapse into one computation.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/gogi/internal/cache"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/storage"
)

// Match is one scored retrieval hit.
type Match struct {
	Node  model.DecisionNode
	Score float64
}

// Retriever scans the decision store for questions similar to a query.
type Retriever struct {
	store   *storage.Store
	backend similarity.Backend
	cache   *cache.TwoTier
	cfg     config.DecisionGraphConfig
	logger  *slog.Logger

	group singleflight.Group
}

// New builds a retriever. cache may be nil to disable caching entirely.
func New(store *storage.Store, backend similarity.Backend, tiers *cache.TwoTier, cfg config.DecisionGraphConfig, logger *slog.Logger) *Retriever {
	return &Retriever{
		store:   store,
		backend: backend,
		cache:   tiers,
		cfg:     cfg,
		logger:  logger,
	}
}

// FindRelevant returns up to maxResults past decisions whose questions score
// at or above max(threshold, noise floor). maxResults <= 0 selects an
// adaptive K from the store population.
func (r *Retriever) FindRelevant(ctx context.Context, question string, threshold float64, maxResults int) ([]Match, error) {
	if maxResults <= 0 {
		k, err := r.adaptiveK(ctx)
		if err != nil {
			return nil, err
		}
		maxResults = k
	}

	key := cache.QueryKey(question, threshold, maxResults)
	if r.cache != nil {
		if entries, ok := r.cache.GetQuery(key); ok {
			return r.materialize(ctx, entries)
		}
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.scan(ctx, key, question, threshold, maxResults)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Match), nil
}

func (r *Retriever) scan(ctx context.Context, key, question string, threshold float64, maxResults int) ([]Match, error) {
	candidates, err := r.store.ListDecisions(ctx, r.cfg.QueryWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("retriever: list candidates: %w", err)
	}

	effective := threshold
	if r.cfg.NoiseFloor > effective {
		effective = r.cfg.NoiseFloor
	}

	var matches []Match
	for _, node := range candidates {
		score, err := r.backend.Score(ctx, question, node.Question)
		if err != nil {
			r.logger.Warn("scoring candidate failed, skipping",
				"decision_id", node.ID, "backend", r.backend.Name(), "error", err)
			continue
		}
		if score >= effective {
			matches = append(matches, Match{Node: node, Score: score})
		}
	}

	// Candidates arrive newest-first, so a stable sort keeps recency as the
	// tiebreak within equal scores.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	if r.cache != nil {
		entries := make([]cache.QueryEntry, len(matches))
		for i, m := range matches {
			entries[i] = cache.QueryEntry{DecisionID: m.Node.ID, Score: m.Score}
		}
		r.cache.PutQuery(key, entries)
	}
	return matches, nil
}

// materialize rebuilds matches from cached ids. Decisions deleted since the
// cache write are silently dropped.
func (r *Retriever) materialize(ctx context.Context, entries []cache.QueryEntry) ([]Match, error) {
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		node, err := r.store.GetDecision(ctx, e.DecisionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("retriever: rehydrate %s: %w", e.DecisionID, err)
		}
		matches = append(matches, Match{Node: node, Score: e.Score})
	}
	return matches, nil
}

// adaptiveK sizes the result set by graph population: small graphs can
// afford generous context, large ones must stay selective.
func (r *Retriever) adaptiveK(ctx context.Context) (int, error) {
	count, err := r.store.CountDecisions(ctx)
	if err != nil {
		return 0, fmt.Errorf("retriever: count decisions: %w", err)
	}
	ak := r.cfg.AdaptiveK
	switch {
	case count <= ak.SmallDB:
		return ak.SmallK, nil
	case count <= ak.MediumDB:
		return ak.MediumK, nil
	default:
		return ak.LargeK, nil
	}
}

// CacheStats reports query/embedding cache statistics, nil when caching is
// disabled.
func (r *Retriever) CacheStats() *cache.TwoTierStats {
	if r.cache == nil {
		return nil
	}
	stats := r.cache.Stats()
	return &stats
}
