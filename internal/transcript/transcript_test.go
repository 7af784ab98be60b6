package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/model"
)

func sampleResult() *model.DeliberationResult {
	winner := "redis"
	return &model.DeliberationResult{
		Status:          model.StatusComplete,
		Mode:            model.ModeConference,
		RoundsCompleted: 2,
		Participants:    []string{"sonnet@claude", "gpt-4o@openai"},
		Summary: model.Summary{
			Consensus:           "Use Redis for the cache layer.",
			KeyAgreements:       []string{"TTL semantics fit", "ops team knows it"},
			KeyDisagreements:    []string{"memory ceiling concerns"},
			FinalRecommendation: "Adopt Redis with a 2GB cap.",
		},
		FullDebate: []model.RoundResponse{
			{Round: 1, ParticipantID: "sonnet@claude", Response: "Redis seems right."},
			{Round: 1, ParticipantID: "gpt-4o@openai", Response: "Consider Postgres."},
			{Round: 2, ParticipantID: "sonnet@claude", Response: "Still Redis."},
			{Round: 2, ParticipantID: "gpt-4o@openai", Response: "Agreed, Redis."},
		},
		VotingResult: &model.VotingResult{
			Tally:            map[string]int{"redis": 2},
			WinningOption:    &winner,
			ConsensusReached: true,
			VotesByRound: []model.RoundVote{
				{Round: 2, ParticipantID: "sonnet@claude", Vote: model.Vote{Option: "redis", Confidence: 0.9}},
				{Round: 2, ParticipantID: "gpt-4o@openai", Vote: model.Vote{Option: "redis", Confidence: 0.8}},
			},
		},
		ConvergenceInfo: &model.ConvergenceInfo{
			Status:          model.ConvergenceConverged,
			FinalSimilarity: 0.91,
			ScoresByRound:   []float64{0.91},
		},
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "transcripts"))
	result := sampleResult()

	path, err := w.Write("Should we use Redis or Postgres for caching?", result)
	require.NoError(t, err)

	name := filepath.Base(path)
	assert.Regexp(t, regexp.MustCompile(`^\d{8}T\d{6}Z_should-we-use-redis-or-postgres-for-caching\.md$`), name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# Deliberation: Should we use Redis or Postgres for caching?")
	assert.Contains(t, content, "## Round 1")
	assert.Contains(t, content, "## Round 2")
	assert.Contains(t, content, "### sonnet@claude")
	assert.Contains(t, content, "## Voting Results")
	assert.Contains(t, content, "**Winner:** redis")
	assert.Contains(t, content, "## Convergence")
	assert.Contains(t, content, "## Summary")
	assert.Contains(t, content, "Adopt Redis with a 2GB cap.")

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Metadata["transcript_sha256"])
}

func TestWriteOmitsVotingWhenNoVotes(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	result := sampleResult()
	result.VotingResult = nil

	path, err := w.Write("question with no votes at all", result)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "## Voting Results")
}

func TestWriteTallyOrderIsStable(t *testing.T) {
	w := NewWriter(t.TempDir())
	result := sampleResult()
	result.VotingResult.Tally = map[string]int{"redis": 2, "postgres": 1, "memcached": 1}

	path, err := w.Write("pick a cache", result)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- memcached: 1\n- postgres: 1\n- redis: 2\n")
}

func TestSlug(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"Should we use Redis?", "should-we-use-redis"},
		{"  multiple   spaces  ", "multiple-spaces"},
		{"ALL CAPS & symbols!!!", "all-caps-symbols"},
		{"", "deliberation"},
		{"???", "deliberation"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slug(tt.question), "question %q", tt.question)
	}
}

func TestSlugLengthCap(t *testing.T) {
	long := "this question keeps going and going and going and going and going well past the cap"
	assert.LessOrEqual(t, len(slug(long)), slugMaxLen)
}
