package convergence

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/testutil"
)

// scriptedBackend reads the score from the current response's "score|text"
// prefix, which lets each table row pin per-participant similarities.
type scriptedBackend struct{}

func (scriptedBackend) Name() string { return "scripted" }

func (scriptedBackend) Score(_ context.Context, _, curr string) (float64, error) {
	prefix, _, ok := strings.Cut(curr, "|")
	if !ok {
		return 0, nil
	}
	return strconv.ParseFloat(prefix, 64)
}

func testConfig() config.ConvergenceConfig {
	return config.ConvergenceConfig{
		Enabled:                     true,
		MinRoundsBeforeCheck:        2,
		SemanticSimilarityThreshold: 0.85,
		DivergenceThreshold:         0.40,
		ConsecutiveStableRounds:     1,
		ImpasseRounds:               3,
		StanceStabilityThreshold:    0.60,
		ResponseLengthDropThreshold: 0.40,
	}
}

func resp(participant, text string) model.RoundResponse {
	return model.RoundResponse{ParticipantID: participant, Response: text}
}

func newTestDetector(cfg config.ConvergenceConfig) *Detector {
	return NewDetector(scriptedBackend{}, cfg, testutil.TestLogger())
}

func TestCheckSkipsEarlyRounds(t *testing.T) {
	d := newTestDetector(testConfig())
	result := d.Check(context.Background(), 1,
		[]model.RoundResponse{resp("a@x", "first")},
		[]model.RoundResponse{resp("a@x", "0.99|same")})
	assert.Nil(t, result)
	assert.Nil(t, d.Info())
}

func TestCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	d := newTestDetector(cfg)
	result := d.Check(context.Background(), 3,
		[]model.RoundResponse{resp("a@x", "first")},
		[]model.RoundResponse{resp("a@x", "0.99|same")})
	assert.Nil(t, result)
}

func TestCheckConverged(t *testing.T) {
	d := newTestDetector(testConfig())
	result := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", "first"), resp("b@y", "first")},
		[]model.RoundResponse{resp("a@x", "0.95|settled"), resp("b@y", "0.90|settled")})

	require.NotNil(t, result)
	assert.Equal(t, model.ConvergenceConverged, result.Status)
	assert.True(t, result.Detected)
	assert.InDelta(t, 0.90, result.MinSimilarity, 1e-9)

	info := d.Info()
	require.NotNil(t, info)
	assert.True(t, info.Detected)
	require.NotNil(t, info.DetectionRound)
	assert.Equal(t, 2, *info.DetectionRound)
}

func TestCheckMinAcrossParticipants(t *testing.T) {
	d := newTestDetector(testConfig())
	result := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", "first"), resp("b@y", "first")},
		[]model.RoundResponse{resp("a@x", "0.95|same"), resp("b@y", "0.50|moved")})

	require.NotNil(t, result)
	assert.InDelta(t, 0.50, result.MinSimilarity, 1e-9)
	assert.Equal(t, model.ConvergenceRefining, result.Status)
	assert.False(t, result.Detected)
}

func TestCheckDiverging(t *testing.T) {
	d := newTestDetector(testConfig())
	result := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", "first")},
		[]model.RoundResponse{resp("a@x", "0.10|total reversal")})

	require.NotNil(t, result)
	assert.Equal(t, model.ConvergenceDiverging, result.Status)
}

func TestCheckImpasse(t *testing.T) {
	d := newTestDetector(testConfig())
	prev := []model.RoundResponse{resp("a@x", "entrenched")}
	curr := []model.RoundResponse{resp("a@x", "0.70|entrenched")}

	var result *Result
	for round := 2; round <= 4; round++ {
		result = d.Check(context.Background(), round, prev, curr)
		require.NotNil(t, result)
	}
	assert.Equal(t, model.ConvergenceImpasse, result.Status)
	assert.False(t, result.Detected)
}

func TestCheckSkipsAbsentParticipants(t *testing.T) {
	d := newTestDetector(testConfig())
	result := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", "first")},
		[]model.RoundResponse{resp("a@x", "0.95|same"), resp("b@y", "0.10|new arrival")})

	require.NotNil(t, result)
	assert.Len(t, result.PerParticipant, 1)
	assert.InDelta(t, 0.95, result.MinSimilarity, 1e-9)
}

func TestCheckLengthDropFeedsStability(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveStableRounds = 2
	d := newTestDetector(cfg)

	long := strings.Repeat("elaborate argument ", 50)
	// Round 2: similarity 0.50 with a >40% length drop counts as stable but
	// cannot converge on its own.
	r2 := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", long)},
		[]model.RoundResponse{resp("a@x", "0.50|wrapping up")})
	require.NotNil(t, r2)
	assert.Equal(t, model.ConvergenceRefining, r2.Status)
	assert.False(t, r2.Detected)

	// Round 3: above the semantic threshold; the counter carried from the
	// length-drop round satisfies the two-round requirement.
	r3 := d.Check(context.Background(), 3,
		[]model.RoundResponse{resp("a@x", "0.50|wrapping up")},
		[]model.RoundResponse{resp("a@x", "0.90|done")})
	require.NotNil(t, r3)
	assert.Equal(t, model.ConvergenceConverged, r3.Status)
	assert.True(t, r3.Detected)
}

func TestCheckLengthDropIgnoredBelowDivergence(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveStableRounds = 2
	d := newTestDetector(cfg)

	long := strings.Repeat("elaborate argument ", 50)
	r2 := d.Check(context.Background(), 2,
		[]model.RoundResponse{resp("a@x", long)},
		[]model.RoundResponse{resp("a@x", "0.20|short pivot")})
	require.NotNil(t, r2)
	assert.Equal(t, model.ConvergenceDiverging, r2.Status)

	// The diverging round must have reset the counter.
	r3 := d.Check(context.Background(), 3,
		[]model.RoundResponse{resp("a@x", "0.20|short pivot")},
		[]model.RoundResponse{resp("a@x", "0.90|agreed")})
	require.NotNil(t, r3)
	assert.False(t, r3.Detected)
}

func TestFinalStatus(t *testing.T) {
	winner := "redis"
	tests := []struct {
		name       string
		similarity model.ConvergenceStatus
		voting     *model.VotingResult
		want       model.ConvergenceStatus
	}{
		{
			name:       "unanimous votes override",
			similarity: model.ConvergenceRefining,
			voting:     &model.VotingResult{Tally: map[string]int{"redis": 3}, WinningOption: &winner, ConsensusReached: true},
			want:       model.ConvergenceUnanimous,
		},
		{
			name:       "majority votes override",
			similarity: model.ConvergenceDiverging,
			voting:     &model.VotingResult{Tally: map[string]int{"redis": 2, "postgres": 1}, WinningOption: &winner, ConsensusReached: true},
			want:       model.ConvergenceMajority,
		},
		{
			name:       "tie overrides",
			similarity: model.ConvergenceConverged,
			voting:     &model.VotingResult{Tally: map[string]int{"redis": 1, "postgres": 1}},
			want:       model.ConvergenceTie,
		},
		{
			name:       "plurality without majority falls back to similarity",
			similarity: model.ConvergenceRefining,
			voting:     &model.VotingResult{Tally: map[string]int{"redis": 2, "postgres": 1, "sqlite": 1}, WinningOption: &winner},
			want:       model.ConvergenceRefining,
		},
		{
			name:       "no votes keeps similarity status",
			similarity: model.ConvergenceMaxRounds,
			want:       model.ConvergenceMaxRounds,
		},
		{
			name: "nothing at all is unknown",
			want: model.ConvergenceUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FinalStatus(tt.similarity, tt.voting))
		})
	}
}
