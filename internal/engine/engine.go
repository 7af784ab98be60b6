// Package engine orchestrates multi-participant deliberations: context
// assembly, parallel round fan-out, vote collection, convergence analysis,
// summarization, and post-processing into the transcript and the decision
// graph.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/gogi/internal/adapter"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/convergence"
	"github.com/ashita-ai/gogi/internal/ctxutil"
	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/telemetry"
	"github.com/ashita-ai/gogi/internal/tools"
	"github.com/ashita-ai/gogi/internal/transcript"
	"github.com/ashita-ai/gogi/internal/vote"
)

// Engine runs deliberations end to end.
type Engine struct {
	adapters   adapter.Registry
	graph      *graph.Service
	backend    similarity.Backend
	transcript *transcript.Writer
	cfg        *config.Config
	logger     *slog.Logger
	tracer     trace.Tracer

	durationHist  metric.Float64Histogram
	invokeHist    metric.Float64Histogram
	roundsCounter metric.Int64Counter
}

// New wires the engine. graph may be nil when the decision graph is
// disabled; transcript may be nil to skip transcript files.
func New(adapters adapter.Registry, graphSvc *graph.Service, backend similarity.Backend, writer *transcript.Writer, cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		adapters:   adapters,
		graph:      graphSvc,
		backend:    backend,
		transcript: writer,
		cfg:        cfg,
		logger:     logger,
		tracer:     telemetry.Tracer("gogi/engine"),
	}
	meter := telemetry.Meter("gogi/engine")
	e.durationHist, _ = meter.Float64Histogram("gogi.deliberation.duration", metric.WithUnit("ms"))
	e.invokeHist, _ = meter.Float64Histogram("gogi.adapter.invoke.duration", metric.WithUnit("ms"))
	e.roundsCounter, _ = meter.Int64Counter("gogi.rounds.completed")
	return e
}

// Execute runs one deliberation. Participant failures are isolated into
// error sentinels; only a round where every participant failed aborts the
// loop early.
func (e *Engine) Execute(ctx context.Context, req model.DeliberateRequest) (*model.DeliberationResult, error) {
	req = e.applyDefaults(req)
	if err := e.validate(req); err != nil {
		return nil, err
	}

	delibID := ctxutil.DeliberationIDFromContext(ctx)
	if delibID == uuid.Nil {
		delibID = uuid.New()
		ctx = ctxutil.WithDeliberationID(ctx, delibID)
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("deliberation.id", delibID.String()),
		attribute.Int("deliberation.participants", len(req.Participants)),
		attribute.Int("deliberation.rounds_requested", req.Rounds),
		attribute.String("deliberation.mode", string(req.Mode)),
	)

	started := time.Now()
	e.logger.Info("deliberation started", "deliberation_id", delibID,
		"participants", len(req.Participants), "rounds", req.Rounds, "mode", req.Mode)

	var executor *tools.Executor
	if e.cfg.Deliberation.ToolSecurity.Enabled {
		executor = tools.NewExecutor(req.WorkingDirectory, e.cfg.Deliberation.ToolSecurity, e.logger)
	}

	result := &model.DeliberationResult{
		Mode:         req.Mode,
		Participants: participantIDs(req.Participants),
	}
	baseline := e.baselineContext(ctx, req, executor, result)

	detector := convergence.NewDetector(e.backend, e.cfg.Deliberation.Convergence, e.logger)
	state := e.runRounds(ctx, req, baseline, executor, detector, result)

	result.Summary = e.summarize(ctx, req, result.FullDebate)
	result.VotingResult = vote.Aggregate(state.votes)
	result.ConvergenceInfo = e.finalConvergence(detector, state, result.VotingResult, req.Rounds)
	result.Status = finalStatus(result.RoundsCompleted, state.fatal)

	e.postProcess(ctx, req.Question, result)

	e.durationHist.Record(ctx, float64(time.Since(started).Milliseconds()))
	e.roundsCounter.Add(ctx, int64(result.RoundsCompleted))
	e.logger.Info("deliberation finished", "deliberation_id", delibID,
		"status", result.Status, "rounds_completed", result.RoundsCompleted,
		"stop_reason", state.stopReason, "duration", time.Since(started))
	return result, nil
}

// ── Context assembly ───────────────────────────────────────────────────────────

// baselineContext builds the round-1 context: graph memory, caller context,
// and the working-directory tree. Each part degrades independently.
func (e *Engine) baselineContext(ctx context.Context, req model.DeliberateRequest, executor *tools.Executor, result *model.DeliberationResult) string {
	var parts []string

	if e.graph != nil {
		graphCtx, err := e.graph.BuildContext(ctx, req.Question)
		switch {
		case err != nil:
			e.logger.Warn("graph context unavailable", "error", err)
		case graphCtx != "":
			parts = append(parts, graphCtx)
			result.GraphContextSummary = graphCtx
		}
	}

	if req.Context != "" {
		parts = append(parts, "# Caller Context\n\n"+req.Context)
	}

	if e.cfg.Deliberation.FileTree.Enabled && executor != nil {
		ft := e.cfg.Deliberation.FileTree
		tree, err := executor.Tree(ft.MaxDepth, ft.MaxEntries)
		if err != nil {
			e.logger.Warn("file tree unavailable", "error", err)
		} else if tree != "" {
			parts = append(parts, "# Project Files\n\n```\n"+tree+"\n```")
		}
	}

	return strings.Join(parts, "\n\n")
}

// ── Round loop ─────────────────────────────────────────────────────────────────

// roundState accumulates loop outcome across rounds.
type roundState struct {
	votes      []model.RoundVote
	stopReason string
	fatal      bool
}

func (e *Engine) runRounds(ctx context.Context, req model.DeliberateRequest, baseline string, executor *tools.Executor, detector *convergence.Detector, result *model.DeliberationResult) roundState {
	var state roundState
	var prevRound []model.RoundResponse

	for round := 1; round <= req.Rounds; round++ {
		roundCtx := baseline
		if round > 1 {
			roundCtx = e.laterRoundContext(result, executor, round)
		}

		trace.SpanFromContext(ctx).AddEvent("round",
			trace.WithAttributes(attribute.Int("round", round)))
		responses := e.fanOut(ctx, req, round, roundCtx)
		result.FullDebate = append(result.FullDebate, responses...)
		result.RoundsCompleted = round

		if allFailed(responses) {
			state.fatal = true
			state.stopReason = "all participants failed"
			e.logger.Error("round failed for every participant", "round", round)
			return state
		}

		roundVotes := collectVotes(responses)
		state.votes = append(state.votes, roundVotes...)

		if executor != nil {
			result.ToolExecutions = append(result.ToolExecutions,
				e.runTools(ctx, round, responses, executor)...)
		}

		if check := detector.Check(ctx, round, prevRound, responses); check != nil {
			if check.Detected {
				state.stopReason = "converged"
				return state
			}
			if check.Status == model.ConvergenceImpasse {
				state.stopReason = "impasse"
				return state
			}
		}

		if vote.ShouldStop(round, roundVotes, len(req.Participants), e.cfg.Deliberation.EarlyStopping) {
			state.stopReason = "early stop voted"
			return state
		}

		prevRound = responses
	}

	state.stopReason = "rounds exhausted"
	return state
}

// laterRoundContext rebuilds context for rounds after the first: the debate
// so far plus the recent tool-execution window.
func (e *Engine) laterRoundContext(result *model.DeliberationResult, executor *tools.Executor, round int) string {
	parts := []string{"# Debate So Far\n\n" + renderDebate(result.FullDebate)}
	if executor != nil && len(result.ToolExecutions) > 0 {
		window := executor.RenderWindow(result.ToolExecutions, round, e.cfg.Deliberation.ToolSecurity.ContextRounds)
		if window != "" {
			parts = append(parts, window)
		}
	}
	return strings.Join(parts, "\n\n")
}

// fanOut invokes every participant concurrently. Each slot is filled either
// with the response or with an error sentinel carrying the failure kind.
func (e *Engine) fanOut(ctx context.Context, req model.DeliberateRequest, round int, roundCtx string) []model.RoundResponse {
	prompt := roundPrompt(req.Question, round, req.Rounds)
	responses := make([]model.RoundResponse, len(req.Participants))

	roundTimeout := e.cfg.Defaults.TimeoutPerRound.Std()
	fanCtx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, p := range req.Participants {
		wg.Add(1)
		go func(slot int, p model.Participant) {
			defer wg.Done()
			responses[slot] = model.RoundResponse{
				Round:         round,
				ParticipantID: p.ID(),
				Response:      e.invokeOne(fanCtx, p, prompt, roundCtx, req.WorkingDirectory),
				Timestamp:     time.Now().UTC(),
			}
		}(i, p)
	}
	wg.Wait()
	return responses
}

// invokeOne calls a single adapter, panic-safe, and renders failures as
// [ERROR: kind] sentinels so every (round, participant) slot stays present.
func (e *Engine) invokeOne(ctx context.Context, p model.Participant, prompt, roundCtx, workingDir string) (response string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("adapter panicked", "participant", p.ID(), "panic", r)
			response = errorSentinel(adapter.KindFatal)
		}
	}()

	a, err := e.adapters.Get(p.CLI)
	if err != nil {
		return errorSentinel(adapter.KindFatal)
	}

	invokeStart := time.Now()
	defer func() {
		e.invokeHist.Record(ctx, float64(time.Since(invokeStart).Milliseconds()),
			metric.WithAttributes(attribute.String("adapter", p.CLI)))
	}()

	out, err := a.Invoke(ctx, adapter.Request{
		Prompt:         prompt,
		Model:          p.Model,
		Context:        roundCtx,
		IsDeliberation: true,
		WorkingDir:     workingDir,
	})
	if err != nil {
		kind := adapter.Classify(err)
		e.logger.Warn("participant invocation failed",
			"participant", p.ID(), "kind", kind, "error", err)
		return errorSentinel(kind)
	}
	return out
}

func errorSentinel(kind adapter.Kind) string {
	return fmt.Sprintf("[ERROR: %s]", kind)
}

func allFailed(responses []model.RoundResponse) bool {
	for _, r := range responses {
		if !strings.HasPrefix(r.Response, "[ERROR:") {
			return false
		}
	}
	return len(responses) > 0
}

func collectVotes(responses []model.RoundResponse) []model.RoundVote {
	var votes []model.RoundVote
	for _, r := range responses {
		if v, ok := vote.Parse(r.Response); ok {
			votes = append(votes, model.RoundVote{
				Round:         r.Round,
				ParticipantID: r.ParticipantID,
				Vote:          *v,
				Timestamp:     r.Timestamp,
			})
		}
	}
	return votes
}

func (e *Engine) runTools(ctx context.Context, round int, responses []model.RoundResponse, executor *tools.Executor) []model.ToolExecution {
	var executions []model.ToolExecution
	for _, r := range responses {
		for _, req := range tools.ParseRequests(r.Response) {
			executions = append(executions, executor.Execute(ctx, round, r.ParticipantID, req))
		}
	}
	return executions
}

// ── Summarization and result assembly ──────────────────────────────────────────

// summarize runs the configured summarizer (or the first participant) once
// over the full debate. Failure degrades to a placeholder.
func (e *Engine) summarize(ctx context.Context, req model.DeliberateRequest, debate []model.RoundResponse) model.Summary {
	if len(debate) == 0 {
		return placeholderSummary()
	}

	name, modelID := e.cfg.Deliberation.Summarizer.Adapter, e.cfg.Deliberation.Summarizer.Model
	if name == "" {
		name, modelID = req.Participants[0].CLI, req.Participants[0].Model
	}
	a, err := e.adapters.Get(name)
	if err != nil {
		e.logger.Warn("summarizer adapter missing", "adapter", name, "error", err)
		return placeholderSummary()
	}

	out, err := a.Invoke(ctx, adapter.Request{
		Prompt:     summaryPrompt(req.Question, debate),
		Model:      modelID,
		WorkingDir: req.WorkingDirectory,
	})
	if err != nil {
		e.logger.Warn("summarizer invocation failed", "adapter", name, "error", err)
		return placeholderSummary()
	}
	return parseSummary(out)
}

// finalConvergence assembles the convergence report for the result. An
// exhausted loop that never converged reads max_rounds, then voting outcomes
// override the similarity trend. When ballots were cast but detection never
// produced a reading, a report is synthesized so the voting outcome still
// surfaces.
func (e *Engine) finalConvergence(detector *convergence.Detector, state roundState, voting *model.VotingResult, requested int) *model.ConvergenceInfo {
	info := detector.Info()
	if info == nil {
		if voting == nil || voting.TotalVotes() == 0 {
			return nil
		}
		info = &model.ConvergenceInfo{}
	}
	if !info.Detected && state.stopReason == "rounds exhausted" && requested > 1 {
		info.Status = model.ConvergenceMaxRounds
	}
	info.Status = convergence.FinalStatus(info.Status, voting)
	return info
}

func finalStatus(completed int, fatal bool) model.DeliberationStatus {
	switch {
	case completed == 0:
		return model.StatusFailed
	case fatal:
		return model.StatusPartial
	default:
		return model.StatusComplete
	}
}

// postProcess writes the transcript and stores the decision. Neither
// failure invalidates the in-memory result.
func (e *Engine) postProcess(ctx context.Context, question string, result *model.DeliberationResult) {
	if e.transcript != nil {
		path, err := e.transcript.Write(question, result)
		if err != nil {
			e.logger.Error("transcript write failed", "error", err)
		} else {
			result.TranscriptPath = path
		}
	}

	if e.graph != nil && result.Status != model.StatusFailed {
		id, err := e.graph.StoreDeliberation(ctx, question, result)
		if err != nil {
			e.logger.Error("decision graph storage failed", "error", err)
			return
		}
		if result.Metadata == nil {
			result.Metadata = make(map[string]any)
		}
		result.Metadata["decision_id"] = id.String()
	}
}

func participantIDs(participants []model.Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID()
	}
	return ids
}
