package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/adapter"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/retriever"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/testutil"
	"github.com/ashita-ai/gogi/internal/transcript"
)

type stubAdapter struct {
	name   string
	calls  atomic.Int64
	invoke func(ctx context.Context, req adapter.Request) (string, error)
}

func (s *stubAdapter) Name() string           { return s.name }
func (s *stubAdapter) Timeout() time.Duration { return time.Second }

func (s *stubAdapter) Invoke(ctx context.Context, req adapter.Request) (string, error) {
	s.calls.Add(1)
	return s.invoke(ctx, req)
}

// echoAdapter answers every round with a fixed position and, when asked to
// summarize, with well-formed summary headers.
func echoAdapter(name, position string) *stubAdapter {
	return &stubAdapter{name: name, invoke: func(_ context.Context, req adapter.Request) (string, error) {
		if strings.Contains(req.Prompt, "Summarize the following") {
			return "CONSENSUS: use postgres\nKEY AGREEMENTS:\n- durability matters\nKEY DISAGREEMENTS:\n- cost\nFINAL RECOMMENDATION: start with postgres.", nil
		}
		return position, nil
	}}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Adapters = map[string]config.AdapterConfig{
		"alpha": {Type: config.AdapterCLI},
		"beta":  {Type: config.AdapterCLI},
	}
	return cfg
}

func testRequest(t *testing.T) model.DeliberateRequest {
	t.Helper()
	return model.DeliberateRequest{
		Question:         "Should the service use postgres or sqlite for persistence?",
		Participants:     []model.Participant{{CLI: "alpha", Model: "m1"}, {CLI: "beta", Model: "m2"}},
		Rounds:           2,
		Mode:             model.ModeConference,
		WorkingDirectory: t.TempDir(),
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, adapters adapter.Registry) *Engine {
	t.Helper()
	return New(adapters, nil, similarity.Jaccard{}, nil, cfg, testutil.TestLogger())
}

func TestExecuteConference(t *testing.T) {
	alpha := echoAdapter("alpha", "Postgres handles concurrent writers better.")
	beta := echoAdapter("beta", "SQLite keeps operations trivial.")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, 2, result.RoundsCompleted)
	assert.Len(t, result.FullDebate, 4)
	assert.Equal(t, []string{"m1@alpha", "m2@beta"}, result.Participants)
	assert.Equal(t, "use postgres", result.Summary.Consensus)
	assert.Equal(t, []string{"durability matters"}, result.Summary.KeyAgreements)
	assert.Empty(t, result.TranscriptPath)
}

func TestExecuteQuickModeForcesOneRound(t *testing.T) {
	alpha := echoAdapter("alpha", "yes")
	beta := echoAdapter("beta", "no")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	req := testRequest(t)
	req.Mode = model.ModeQuick
	req.Rounds = 4

	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RoundsCompleted)
	assert.Len(t, result.FullDebate, 2)
}

func TestExecuteValidation(t *testing.T) {
	alpha := echoAdapter("alpha", "x")
	beta := echoAdapter("beta", "x")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	tests := []struct {
		name   string
		mutate func(*model.DeliberateRequest)
		field  string
	}{
		{"short question", func(r *model.DeliberateRequest) { r.Question = "why?" }, "question"},
		{"one participant", func(r *model.DeliberateRequest) { r.Participants = r.Participants[:1] }, "participants"},
		{"unknown adapter", func(r *model.DeliberateRequest) { r.Participants[0].CLI = "gamma" }, "participants"},
		{"too many rounds", func(r *model.DeliberateRequest) { r.Rounds = 99 }, "rounds"},
		{"bad mode", func(r *model.DeliberateRequest) { r.Mode = "sprint" }, "mode"},
		{"missing working dir", func(r *model.DeliberateRequest) { r.WorkingDirectory = "" }, "working_directory"},
		{"nonexistent working dir", func(r *model.DeliberateRequest) { r.WorkingDirectory = "/does/not/exist" }, "working_directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t)
			tt.mutate(&req)
			_, err := e.Execute(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestExecuteRegistryRejectsUnknownModel(t *testing.T) {
	cfg := testConfig()
	cfg.ModelRegistry = map[string][]config.RegistryEntry{
		"alpha": {{ID: "m1"}},
	}
	e := newTestEngine(t, cfg, adapter.Registry{
		"alpha": echoAdapter("alpha", "x"),
		"beta":  echoAdapter("beta", "x"),
	})

	req := testRequest(t)
	req.Participants[0].Model = "m9"
	_, err := e.Execute(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "participants", verr.Field)
}

func TestExecuteIsolatesParticipantFailure(t *testing.T) {
	alpha := echoAdapter("alpha", "steady answer")
	beta := &stubAdapter{name: "beta", invoke: func(context.Context, adapter.Request) (string, error) {
		return "", &adapter.Error{Kind: adapter.KindTimeout, Err: context.DeadlineExceeded}
	}}
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, 2, result.RoundsCompleted)
	for _, r := range result.FullDebate {
		if r.ParticipantID == "m2@beta" {
			assert.Equal(t, "[ERROR: TIMEOUT]", r.Response)
		} else {
			assert.Equal(t, "steady answer", r.Response)
		}
	}
}

func TestExecuteRecoversAdapterPanic(t *testing.T) {
	alpha := echoAdapter("alpha", "calm")
	beta := &stubAdapter{name: "beta", invoke: func(context.Context, adapter.Request) (string, error) {
		panic("adapter bug")
	}}
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, result.Status)
	for _, r := range result.FullDebate {
		if r.ParticipantID == "m2@beta" {
			assert.Equal(t, "[ERROR: FATAL]", r.Response)
		}
	}
}

func TestExecuteAllFailedRoundAborts(t *testing.T) {
	failing := func(name string) *stubAdapter {
		return &stubAdapter{name: name, invoke: func(context.Context, adapter.Request) (string, error) {
			return "", &adapter.Error{Kind: adapter.KindTransient, Err: fmt.Errorf("backend down")}
		}}
	}
	e := newTestEngine(t, testConfig(), adapter.Registry{
		"alpha": failing("alpha"), "beta": failing("beta"),
	})

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartial, result.Status)
	assert.Equal(t, 1, result.RoundsCompleted)
	assert.Len(t, result.FullDebate, 2)
	for _, r := range result.FullDebate {
		assert.Equal(t, "[ERROR: TRANSIENT]", r.Response)
	}
}

func TestExecuteEarlyStopOnVotes(t *testing.T) {
	voter := func(name string) *stubAdapter {
		return &stubAdapter{name: name, invoke: func(_ context.Context, req adapter.Request) (string, error) {
			if strings.Contains(req.Prompt, "Summarize the following") {
				return "CONSENSUS: postgres", nil
			}
			return `Settled.
VOTE: {"option": "postgres", "confidence": 0.9, "rationale": "durability", "continue_debate": false}`, nil
		}}
	}
	cfg := testConfig()
	cfg.Deliberation.EarlyStopping.Enabled = true
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": voter("alpha"), "beta": voter("beta")})

	req := testRequest(t)
	req.Rounds = 3
	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RoundsCompleted)
	require.NotNil(t, result.VotingResult)
	assert.True(t, result.VotingResult.ConsensusReached)
	require.NotNil(t, result.VotingResult.WinningOption)
	assert.Equal(t, "postgres", *result.VotingResult.WinningOption)
}

func TestExecuteUnanimousEarlyStopReportsConsensus(t *testing.T) {
	// With convergence detection off and a round-1 stop, the detector never
	// produces a reading; the voting outcome must still surface in the
	// result's convergence report.
	voter := func(name string) *stubAdapter {
		return &stubAdapter{name: name, invoke: func(_ context.Context, req adapter.Request) (string, error) {
			if strings.Contains(req.Prompt, "Summarize the following") {
				return "CONSENSUS: postgres", nil
			}
			return `Settled.
VOTE: {"option": "postgres", "confidence": 0.9, "rationale": "durability", "continue_debate": false}`, nil
		}}
	}
	cfg := testConfig()
	cfg.Deliberation.EarlyStopping.Enabled = true
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": voter("alpha"), "beta": voter("beta")})

	req := testRequest(t)
	req.Rounds = 3
	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RoundsCompleted)
	require.NotNil(t, result.ConvergenceInfo)
	assert.Equal(t, model.ConvergenceUnanimous, result.ConvergenceInfo.Status)
}

func TestExecuteUnanimousVoteOverridesMaxRounds(t *testing.T) {
	// Prose churns every round so similarity stays low and the loop runs to
	// exhaustion, but both participants keep voting the same option. The
	// unanimous ballot outranks max_rounds in the final status.
	churn := []string{
		"observability tooling and operational runbooks dominate the first pass",
		"migration ergonomics plus connection pooling change the calculus entirely",
		"licensing, hosting spend, and upgrade cadence tip the long-term balance",
	}
	voter := func(name string) *stubAdapter {
		n := 0
		return &stubAdapter{name: name, invoke: func(_ context.Context, req adapter.Request) (string, error) {
			if strings.Contains(req.Prompt, "Summarize the following") {
				return "CONSENSUS: postgres", nil
			}
			n++
			return fmt.Sprintf("%s (%s)\nVOTE: {\"option\": \"postgres\", \"confidence\": 0.8, \"rationale\": \"fits\", \"continue_debate\": true}",
				churn[n%len(churn)], name), nil
		}}
	}
	cfg := testConfig()
	cfg.Deliberation.Convergence.Enabled = true
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": voter("alpha"), "beta": voter("beta")})

	req := testRequest(t)
	req.Rounds = 3
	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, result.RoundsCompleted)
	require.NotNil(t, result.VotingResult)
	require.NotNil(t, result.ConvergenceInfo)
	assert.False(t, result.ConvergenceInfo.Detected)
	assert.Equal(t, model.ConvergenceUnanimous, result.ConvergenceInfo.Status)
}

func TestExecuteConvergenceStopsEarly(t *testing.T) {
	// Identical responses every round score 1.0 under Jaccard, so the
	// detector fires at the first eligible round.
	alpha := echoAdapter("alpha", "postgres is the right call for this workload")
	beta := echoAdapter("beta", "sqlite is enough for a single writer")

	cfg := testConfig()
	cfg.Deliberation.Convergence.Enabled = true
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": alpha, "beta": beta})

	req := testRequest(t)
	req.Rounds = 5
	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RoundsCompleted)
	require.NotNil(t, result.ConvergenceInfo)
	assert.True(t, result.ConvergenceInfo.Detected)
	assert.Equal(t, model.ConvergenceConverged, result.ConvergenceInfo.Status)
	require.NotNil(t, result.ConvergenceInfo.DetectionRound)
	assert.Equal(t, 2, *result.ConvergenceInfo.DetectionRound)
}

func TestExecuteMaxRoundsStatus(t *testing.T) {
	// Responses change wholesale every round, so similarity stays low and
	// the loop runs to exhaustion.
	churn := func(name string) *stubAdapter {
		n := 0
		return &stubAdapter{name: name, invoke: func(_ context.Context, req adapter.Request) (string, error) {
			if strings.Contains(req.Prompt, "Summarize the following") {
				return "CONSENSUS: none", nil
			}
			n++
			return fmt.Sprintf("entirely different angle number %d from %s", n*7, name), nil
		}}
	}
	cfg := testConfig()
	cfg.Deliberation.Convergence.Enabled = true
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": churn("alpha"), "beta": churn("beta")})

	req := testRequest(t)
	req.Rounds = 3
	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, result.RoundsCompleted)
	assert.Equal(t, model.StatusComplete, result.Status)
	require.NotNil(t, result.ConvergenceInfo)
	assert.False(t, result.ConvergenceInfo.Detected)
	assert.Equal(t, model.ConvergenceMaxRounds, result.ConvergenceInfo.Status)
}

func TestExecuteSummarizerFailureDegrades(t *testing.T) {
	alpha := &stubAdapter{name: "alpha", invoke: func(_ context.Context, req adapter.Request) (string, error) {
		if strings.Contains(req.Prompt, "Summarize the following") {
			return "", &adapter.Error{Kind: adapter.KindTransient, Err: fmt.Errorf("overloaded")}
		}
		return "position", nil
	}}
	beta := echoAdapter("beta", "counterpoint")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Contains(t, result.Summary.Consensus, "Summary unavailable")
}

func TestExecuteDedicatedSummarizer(t *testing.T) {
	alpha := echoAdapter("alpha", "a view")
	beta := echoAdapter("beta", "b view")
	scribe := echoAdapter("scribe", "unused position")

	cfg := testConfig()
	cfg.Adapters["scribe"] = config.AdapterConfig{Type: config.AdapterCLI}
	cfg.Deliberation.Summarizer = config.SummarizerConfig{Adapter: "scribe", Model: "s1"}
	e := newTestEngine(t, cfg, adapter.Registry{"alpha": alpha, "beta": beta, "scribe": scribe})

	req := testRequest(t)
	req.Rounds = 1
	_, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), scribe.calls.Load())
	assert.Equal(t, int64(1), alpha.calls.Load())
}

func TestExecuteCallerContextReachesRoundOne(t *testing.T) {
	var firstContext string
	alpha := &stubAdapter{name: "alpha", invoke: func(_ context.Context, req adapter.Request) (string, error) {
		if firstContext == "" && req.Context != "" {
			firstContext = req.Context
		}
		return "ok then", nil
	}}
	beta := echoAdapter("beta", "fine")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	req := testRequest(t)
	req.Context = "The team already runs a managed postgres cluster."
	_, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, firstContext, "# Caller Context")
	assert.Contains(t, firstContext, "managed postgres cluster")
}

func TestExecuteLaterRoundsSeeDebate(t *testing.T) {
	var round2Context string
	alpha := &stubAdapter{name: "alpha", invoke: func(_ context.Context, req adapter.Request) (string, error) {
		if strings.Contains(req.Prompt, "round 2 of") {
			round2Context = req.Context
		}
		return "alpha says postgres", nil
	}}
	beta := echoAdapter("beta", "beta says sqlite")
	e := newTestEngine(t, testConfig(), adapter.Registry{"alpha": alpha, "beta": beta})

	_, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Contains(t, round2Context, "# Debate So Far")
	assert.Contains(t, round2Context, "## Round 1")
	assert.Contains(t, round2Context, "beta says sqlite")
}

func TestExecutePostProcessing(t *testing.T) {
	store := testutil.NewStore(t)
	cfg := testConfig()
	logger := testutil.TestLogger()
	backend := similarity.Jaccard{}
	ret := retriever.New(store, backend, nil, cfg.DecisionGraph, logger)
	graphSvc := graph.NewService(store, ret, nil, nil, cfg.DecisionGraph, logger)
	writer := transcript.NewWriter(t.TempDir())

	alpha := echoAdapter("alpha", "postgres all the way")
	beta := echoAdapter("beta", "postgres works for me too")
	e := New(adapter.Registry{"alpha": alpha, "beta": beta}, graphSvc, backend, writer, cfg, logger)

	result, err := e.Execute(context.Background(), testRequest(t))
	require.NoError(t, err)

	require.NotEmpty(t, result.TranscriptPath)
	assert.Contains(t, result.TranscriptPath, ".md")

	require.NotNil(t, result.Metadata)
	id, ok := result.Metadata["decision_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	nodes, err := store.ListDecisions(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].ID.String())
}
