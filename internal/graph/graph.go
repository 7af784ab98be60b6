// Package graph is the decision-memory service layer: it renders past
// decisions into deliberation context and persists finished deliberations
// back into the graph.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/gogi/internal/cache"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/convergence"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/retriever"
	"github.com/ashita-ai/gogi/internal/storage"
	"github.com/ashita-ai/gogi/internal/worker"
)

// finalPositionMaxChars bounds the stored per-participant position text.
const finalPositionMaxChars = 500

// charsPerToken converts the token budget to a character budget.
const charsPerToken = 4

// Service mediates between the deliberation engine and the decision graph.
type Service struct {
	store     *storage.Store
	retriever *retriever.Retriever
	cache     *cache.TwoTier
	worker    *worker.SimilarityWorker
	cfg       config.DecisionGraphConfig
	logger    *slog.Logger
}

// NewService wires the graph service. cache and worker may be nil; caching
// and background scoring degrade gracefully without them.
func NewService(store *storage.Store, ret *retriever.Retriever, tiers *cache.TwoTier, w *worker.SimilarityWorker, cfg config.DecisionGraphConfig, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		retriever: ret,
		cache:     tiers,
		worker:    w,
		cfg:       cfg,
		logger:    logger,
	}
}

// Store exposes the underlying decision store for read paths (MCP resources,
// gogictl).
func (s *Service) Store() *storage.Store { return s.store }

// Retriever exposes the query path for the MCP query tool.
func (s *Service) Retriever() *retriever.Retriever { return s.retriever }

// Worker exposes the similarity worker for stats and recompute.
func (s *Service) Worker() *worker.SimilarityWorker { return s.worker }

// ── Context building ───────────────────────────────────────────────────────────

// decisionBlock is one rendered decision plus the tier it belongs to.
type decisionBlock struct {
	strong bool
	text   string
}

// BuildContext renders past decisions relevant to the question as a markdown
// block for round-1 context. Returns "" when nothing qualifies.
func (s *Service) BuildContext(ctx context.Context, question string) (string, error) {
	matches, err := s.retriever.FindRelevant(ctx, question, s.cfg.TierBoundaries.Moderate, s.cfg.MaxContextDecisions)
	if err != nil {
		return "", fmt.Errorf("graph: retrieve context: %w", err)
	}

	var blocks []decisionBlock
	for _, m := range matches {
		if m.Score < s.cfg.TierBoundaries.Moderate {
			continue
		}
		blocks = append(blocks, decisionBlock{
			strong: m.Score >= s.cfg.TierBoundaries.Strong,
			text:   renderDecision(m),
		})
	}
	if len(blocks) == 0 {
		return "", nil
	}

	// Matches arrive score-descending, so trimming from the tail always
	// drops the weakest context first.
	budget := s.cfg.ContextTokenBudget * charsPerToken
	for keep := len(blocks); keep > 0; keep-- {
		rendered := assemble(blocks[:keep])
		if len(rendered) <= budget {
			return rendered, nil
		}
	}

	s.logger.Warn("graph: context budget too small for any decision",
		"budget_tokens", s.cfg.ContextTokenBudget)
	return "", nil
}

func renderDecision(m retriever.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (%s)\n", m.Node.Question, m.Node.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Consensus: %s\n", m.Node.Consensus)
	if m.Node.WinningOption != nil {
		fmt.Fprintf(&b, "- Decision: %s (%d participants)\n", *m.Node.WinningOption, len(m.Node.Participants))
	}
	fmt.Fprintf(&b, "- Similarity: %.2f\n", m.Score)
	return b.String()
}

func assemble(blocks []decisionBlock) string {
	var b strings.Builder
	b.WriteString("# Relevant Past Decisions\n\n")
	b.WriteString("The decision graph surfaced prior deliberations related to this question.\n")

	wroteStrong, wroteModerate := false, false
	for _, block := range blocks {
		if block.strong && !wroteStrong {
			b.WriteString("\n## Highly Relevant Past Decisions\n\n")
			wroteStrong = true
		}
		if !block.strong && !wroteModerate {
			b.WriteString("\n## Related Past Decisions\n\n")
			wroteModerate = true
		}
		b.WriteString(block.text)
	}

	b.WriteString("\nThese past decisions are context, not constraints; weigh them against the current question.\n")
	return b.String()
}

// ── Persisting deliberations ───────────────────────────────────────────────────

// StoreDeliberation persists the deliberation outcome as a decision node
// with per-participant stances, invalidates cached queries, and schedules
// similarity scoring. The write path never waits for edge computation.
func (s *Service) StoreDeliberation(ctx context.Context, question string, result *model.DeliberationResult) (uuid.UUID, error) {
	node := model.DecisionNode{
		Question:          question,
		Consensus:         result.Summary.Consensus,
		ConvergenceStatus: string(finalStatus(result)),
		Participants:      result.Participants,
		TranscriptPath:    result.TranscriptPath,
		Metadata: map[string]any{
			"mode":             string(result.Mode),
			"rounds_completed": result.RoundsCompleted,
			"completeness":     completeness(result),
		},
	}
	if result.VotingResult != nil {
		node.WinningOption = result.VotingResult.WinningOption
	}
	if hash, ok := result.Metadata["transcript_sha256"]; ok {
		node.Metadata["transcript_sha256"] = hash
	}

	saved, err := s.store.SaveDeliberation(ctx, node, stancesFor(result))
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: store deliberation: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateQueries("new decision added")
	}
	s.scheduleSimilarity(ctx, saved.ID)

	return saved.ID, nil
}

// scheduleSimilarity prefers the background queue and falls back to inline
// computation so a full queue never loses edges.
func (s *Service) scheduleSimilarity(ctx context.Context, decisionID uuid.UUID) {
	if s.worker == nil {
		s.logger.Debug("graph: no similarity worker configured, skipping edge scoring",
			"decision_id", decisionID)
		return
	}
	err := s.worker.Enqueue(decisionID, worker.PriorityLow, 0)
	if err == nil {
		return
	}
	if !errors.Is(err, worker.ErrQueueFull) {
		s.logger.Error("graph: enqueue similarity job", "decision_id", decisionID, "error", err)
		return
	}
	s.logger.Warn("graph: similarity queue full, computing inline", "decision_id", decisionID)
	if err := s.worker.Compute(ctx, decisionID); err != nil {
		s.logger.Error("graph: inline similarity computation failed",
			"decision_id", decisionID, "error", err)
	}
}

// ── Contradiction detection ────────────────────────────────────────────────────

// Contradiction is a pair of similar decisions that settled on different
// outcomes.
type Contradiction struct {
	A     model.DecisionNode `json:"a"`
	B     model.DecisionNode `json:"b"`
	Score float64            `json:"score"`
}

// FindContradictions reports decision pairs joined by at least a
// moderate-tier edge whose winning options differ. Both directions of every
// edge exist, so pairs are deduplicated by id order.
func (s *Service) FindContradictions(ctx context.Context, limit int) ([]Contradiction, error) {
	if limit <= 0 {
		limit = 10
	}

	decisions, err := s.store.ListDecisions(ctx, s.cfg.QueryWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("graph: list decisions: %w", err)
	}
	byID := make(map[uuid.UUID]model.DecisionNode, len(decisions))
	for _, d := range decisions {
		byID[d.ID] = d
	}

	var found []Contradiction
	for _, d := range decisions {
		edges, err := s.store.GetEdges(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("graph: edges for %s: %w", d.ID, err)
		}
		for _, edge := range edges {
			if edge.Score < s.cfg.TierBoundaries.Moderate {
				continue
			}
			if edge.SourceID.String() > edge.TargetID.String() {
				continue // the mirrored edge covers this pair
			}
			other, ok := byID[edge.TargetID]
			if !ok {
				continue
			}
			if !contradicts(d, other) {
				continue
			}
			found = append(found, Contradiction{A: d, B: other, Score: edge.Score})
			if len(found) >= limit {
				return found, nil
			}
		}
	}
	return found, nil
}

// contradicts reports whether two linked decisions disagree: both carry a
// non-empty winning option and the options differ.
func contradicts(a, b model.DecisionNode) bool {
	if a.WinningOption == nil || b.WinningOption == nil {
		return false
	}
	optA, optB := strings.TrimSpace(*a.WinningOption), strings.TrimSpace(*b.WinningOption)
	return optA != "" && optB != "" && !strings.EqualFold(optA, optB)
}

// finalStatus resolves the stored status from convergence and voting.
func finalStatus(result *model.DeliberationResult) model.ConvergenceStatus {
	var similarityStatus model.ConvergenceStatus
	if result.ConvergenceInfo != nil {
		similarityStatus = result.ConvergenceInfo.Status
	}
	return convergence.FinalStatus(similarityStatus, result.VotingResult)
}

// stancesFor derives one stance per participant: the last vote cast across
// the debate, or null vote fields for abstainers.
func stancesFor(result *model.DeliberationResult) []model.ParticipantStance {
	lastVotes := make(map[string]model.Vote)
	if result.VotingResult != nil {
		for _, rv := range result.VotingResult.VotesByRound {
			lastVotes[rv.ParticipantID] = rv.Vote
		}
	}

	stances := make([]model.ParticipantStance, 0, len(result.Participants))
	for _, id := range result.Participants {
		stance := model.ParticipantStance{ParticipantID: id}
		if v, ok := lastVotes[id]; ok {
			option, confidence, rationale := v.Option, v.Confidence, v.Rationale
			stance.VoteOption = &option
			stance.Confidence = &confidence
			stance.Rationale = &rationale
		}
		if last := result.LastResponseOf(id); last != nil {
			stance.FinalPosition = truncate(last.Response, finalPositionMaxChars)
		}
		stances = append(stances, stance)
	}
	return stances
}

// completeness scores how much of the requested deliberation actually
// happened: the fraction of (round, participant) slots holding a response.
func completeness(result *model.DeliberationResult) float64 {
	if result.RoundsCompleted == 0 || len(result.Participants) == 0 {
		return 0
	}
	expected := result.RoundsCompleted * len(result.Participants)
	filled := 0
	for _, r := range result.FullDebate {
		if !strings.HasPrefix(r.Response, "[ERROR:") {
			filled++
		}
	}
	return float64(filled) / float64(expected)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
