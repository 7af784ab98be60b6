package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/retriever"
)

// Format selects how query_decisions renders its results.
type Format string

const (
	FormatSummary  Format = "summary"
	FormatDetailed Format = "detailed"
	FormatJSON     Format = "json"
	FormatTable    Format = "table"
)

func parseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatSummary:
		return FormatSummary, nil
	case FormatDetailed, FormatJSON, FormatTable:
		return Format(raw), nil
	default:
		return "", fmt.Errorf("unknown format %q (want summary, detailed, json, or table)", raw)
	}
}

const maxCompactConsensus = 200

// decisionDetail is the query_decisions payload for a single decision:
// the node plus its stances and outbound similarity edges.
type decisionDetail struct {
	Decision model.DecisionNode        `json:"decision"`
	Stances  []model.ParticipantStance `json:"stances"`
	Edges    []model.SimilarityEdge    `json:"edges"`
}

func (s *Server) loadDecisionDetail(ctx context.Context, rawID string) (*decisionDetail, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("decision_id must be a UUID: %v", err)
	}
	store := s.graph.Store()

	node, err := store.GetDecision(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("decision %s: %v", id, err)
	}
	stances, err := store.GetStances(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("stances for %s: %v", id, err)
	}
	edges, err := store.GetEdges(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("edges for %s: %v", id, err)
	}
	return &decisionDetail{Decision: node, Stances: stances, Edges: edges}, nil
}

// compactDecision drops fields agents don't act on and truncates the
// consensus text.
func compactDecision(d model.DecisionNode) map[string]any {
	m := map[string]any{
		"id":        d.ID,
		"question":  d.Question,
		"consensus": truncate(d.Consensus, maxCompactConsensus),
		"status":    d.ConvergenceStatus,
	}
	if d.WinningOption != nil && *d.WinningOption != "" {
		m["winning_option"] = *d.WinningOption
	}
	return m
}

func detailedDecision(d model.DecisionNode) map[string]any {
	m := compactDecision(d)
	m["timestamp"] = d.Timestamp
	m["participants"] = d.Participants
	if d.TranscriptPath != "" {
		m["transcript_path"] = d.TranscriptPath
	}
	return m
}

// ── matches ────────────────────────────────────────────────────────────────────

func formatMatches(matches []retriever.Match, format Format) string {
	if len(matches) == 0 && format != FormatJSON {
		return "No matching decisions found."
	}

	switch format {
	case FormatJSON:
		return marshalIndent(matches)
	case FormatTable:
		var b strings.Builder
		b.WriteString("| Score | Question | Status | Winning Option |\n")
		b.WriteString("|-------|----------|--------|----------------|\n")
		for _, m := range matches {
			fmt.Fprintf(&b, "| %.2f | %s | %s | %s |\n",
				m.Score, cell(m.Node.Question), cell(m.Node.ConvergenceStatus), cell(option(m.Node)))
		}
		return b.String()
	case FormatDetailed:
		out := make([]map[string]any, 0, len(matches))
		for _, m := range matches {
			d := detailedDecision(m.Node)
			d["score"] = m.Score
			out = append(out, d)
		}
		return marshalIndent(out)
	default:
		out := make([]map[string]any, 0, len(matches))
		for _, m := range matches {
			d := compactDecision(m.Node)
			d["score"] = m.Score
			out = append(out, d)
		}
		return marshalIndent(out)
	}
}

// ── single decision ────────────────────────────────────────────────────────────

func formatDetail(detail decisionDetail, format Format) string {
	switch format {
	case FormatJSON:
		return marshalIndent(detail)
	case FormatTable:
		var b strings.Builder
		fmt.Fprintf(&b, "**%s**\n\n", detail.Decision.Question)
		fmt.Fprintf(&b, "Status: %s\n\n", detail.Decision.ConvergenceStatus)
		b.WriteString("| Participant | Vote | Confidence | Final Position |\n")
		b.WriteString("|-------------|------|------------|----------------|\n")
		for _, st := range detail.Stances {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				cell(st.ParticipantID), cell(deref(st.VoteOption)),
				confidenceCell(st.Confidence), cell(st.FinalPosition))
		}
		return b.String()
	case FormatDetailed:
		out := map[string]any{
			"decision": detailedDecision(detail.Decision),
			"stances":  detail.Stances,
			"edges":    detail.Edges,
		}
		return marshalIndent(out)
	default:
		out := map[string]any{
			"decision": compactDecision(detail.Decision),
			"stances":  len(detail.Stances),
			"edges":    len(detail.Edges),
		}
		return marshalIndent(out)
	}
}

// ── contradictions ─────────────────────────────────────────────────────────────

func formatContradictions(pairs []graph.Contradiction, format Format) string {
	if len(pairs) == 0 && format != FormatJSON {
		return "No contradicting decision pairs found."
	}

	switch format {
	case FormatJSON:
		return marshalIndent(pairs)
	case FormatTable:
		var b strings.Builder
		b.WriteString("| Score | Question A | Option A | Question B | Option B |\n")
		b.WriteString("|-------|------------|----------|------------|----------|\n")
		for _, p := range pairs {
			fmt.Fprintf(&b, "| %.2f | %s | %s | %s | %s |\n",
				p.Score, cell(p.A.Question), cell(option(p.A)), cell(p.B.Question), cell(option(p.B)))
		}
		return b.String()
	case FormatDetailed:
		out := make([]map[string]any, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, map[string]any{
				"score": p.Score,
				"a":     detailedDecision(p.A),
				"b":     detailedDecision(p.B),
			})
		}
		return marshalIndent(out)
	default:
		out := make([]map[string]any, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, map[string]any{
				"score": p.Score,
				"a":     compactDecision(p.A),
				"b":     compactDecision(p.B),
			})
		}
		return marshalIndent(out)
	}
}

// ── rendering helpers ──────────────────────────────────────────────────────────

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("marshal failed: %v", err)
	}
	return string(data)
}

func option(d model.DecisionNode) string {
	if d.WinningOption == nil {
		return ""
	}
	return *d.WinningOption
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func confidenceCell(c *float64) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *c)
}

// cell makes a value safe for a one-line markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	return truncate(s, 80)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
