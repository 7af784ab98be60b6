package retriever

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/cache"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/storage"
	"github.com/ashita-ai/gogi/internal/testutil"
)

// mapBackend scores by candidate question lookup and counts invocations.
type mapBackend struct {
	scores map[string]float64
	calls  atomic.Int32
}

func (b *mapBackend) Name() string { return "map" }

func (b *mapBackend) Score(_ context.Context, _, candidate string) (float64, error) {
	b.calls.Add(1)
	return b.scores[candidate], nil
}

func graphConfig() config.DecisionGraphConfig {
	cfg := config.Default().DecisionGraph
	cfg.NoiseFloor = 0.20
	return cfg
}

func seedDecisions(t *testing.T, store *storage.Store, questions ...string) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i, q := range questions {
		_, err := store.SaveDecision(context.Background(), model.DecisionNode{
			Question:          q,
			Timestamp:         base.Add(time.Duration(i) * time.Minute),
			Consensus:         "settled",
			ConvergenceStatus: string(model.ConvergenceConverged),
			Participants:      []string{"a@x"},
		})
		require.NoError(t, err)
	}
}

func TestFindRelevantFiltersAndSorts(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "use redis for caching", "pick a database", "naming the service")

	backend := &mapBackend{scores: map[string]float64{
		"use redis for caching": 0.9,
		"pick a database":       0.5,
		"naming the service":    0.1,
	}}
	r := New(store, backend, nil, graphConfig(), testutil.TestLogger())

	matches, err := r.FindRelevant(context.Background(), "should we cache in redis?", 0.3, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "use redis for caching", matches[0].Node.Question)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-9)
	assert.Equal(t, "pick a database", matches[1].Node.Question)
}

func TestFindRelevantNoiseFloor(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "barely related")

	backend := &mapBackend{scores: map[string]float64{"barely related": 0.15}}
	r := New(store, backend, nil, graphConfig(), testutil.TestLogger())

	// Caller threshold 0.1 is below the 0.20 noise floor; the floor wins.
	matches, err := r.FindRelevant(context.Background(), "anything", 0.1, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindRelevantTruncates(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "q1", "q2", "q3", "q4")

	backend := &mapBackend{scores: map[string]float64{"q1": 0.9, "q2": 0.8, "q3": 0.7, "q4": 0.6}}
	r := New(store, backend, nil, graphConfig(), testutil.TestLogger())

	matches, err := r.FindRelevant(context.Background(), "q", 0.3, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "q1", matches[0].Node.Question)
	assert.Equal(t, "q2", matches[1].Node.Question)
}

func TestFindRelevantAdaptiveK(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "q1", "q2", "q3", "q4", "q5", "q6", "q7")

	cfg := graphConfig()
	cfg.AdaptiveK = config.AdaptiveKConfig{SmallDB: 3, MediumDB: 6, SmallK: 5, MediumK: 3, LargeK: 2}

	backend := &mapBackend{scores: map[string]float64{
		"q1": 0.9, "q2": 0.9, "q3": 0.9, "q4": 0.9, "q5": 0.9, "q6": 0.9, "q7": 0.9,
	}}
	r := New(store, backend, nil, cfg, testutil.TestLogger())

	// 7 decisions exceeds medium_db, so K degrades to large_k.
	matches, err := r.FindRelevant(context.Background(), "q", 0.3, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestFindRelevantCaches(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "cached question")

	backend := &mapBackend{scores: map[string]float64{"cached question": 0.9}}
	tiers := cache.NewTwoTier(10, time.Minute, 10, testutil.TestLogger())
	r := New(store, backend, tiers, graphConfig(), testutil.TestLogger())

	first, err := r.FindRelevant(context.Background(), "same query", 0.3, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)
	scored := backend.calls.Load()

	second, err := r.FindRelevant(context.Background(), "same query", 0.3, 5)
	require.NoError(t, err)
	assert.Equal(t, first[0].Node.ID, second[0].Node.ID)
	assert.Equal(t, scored, backend.calls.Load(), "cache hit must not re-score")

	// Different parameters miss the cache.
	_, err = r.FindRelevant(context.Background(), "same query", 0.4, 5)
	require.NoError(t, err)
	assert.Greater(t, backend.calls.Load(), scored)
}

func TestFindRelevantInvalidationRecomputes(t *testing.T) {
	store := testutil.NewStore(t)
	seedDecisions(t, store, "original")

	backend := &mapBackend{scores: map[string]float64{"original": 0.9, "added later": 0.95}}
	tiers := cache.NewTwoTier(10, time.Minute, 10, testutil.TestLogger())
	r := New(store, backend, tiers, graphConfig(), testutil.TestLogger())

	first, err := r.FindRelevant(context.Background(), "query", 0.3, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)

	seedDecisions(t, store, "added later")
	tiers.InvalidateQueries("new decision added")

	second, err := r.FindRelevant(context.Background(), "query", 0.3, 5)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestCacheStats(t *testing.T) {
	store := testutil.NewStore(t)
	backend := &mapBackend{}

	noCache := New(store, backend, nil, graphConfig(), testutil.TestLogger())
	assert.Nil(t, noCache.CacheStats())

	tiers := cache.NewTwoTier(10, time.Minute, 10, testutil.TestLogger())
	withCache := New(store, backend, tiers, graphConfig(), testutil.TestLogger())
	require.NotNil(t, withCache.CacheStats())
}
