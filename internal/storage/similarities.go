package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/gogi/internal/model"
)

// ScoredDecision pairs a decision node with its similarity to a source.
type ScoredDecision struct {
	Node  model.DecisionNode
	Score float64
}

// SaveSimilarity upserts a directed similarity edge. The score is clamped
// to [0,1] at this boundary; accumulated floating-point drift upstream must
// never land out of range in the store.
func (s *Store) SaveSimilarity(ctx context.Context, edge model.SimilarityEdge) error {
	score := edge.Score
	switch {
	case math.IsNaN(score), score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	computedAt := edge.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO similarities (source_id, target_id, similarity_score, computed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id, target_id) DO UPDATE SET
		   similarity_score = excluded.similarity_score,
		   computed_at = excluded.computed_at`,
		edge.SourceID.String(), edge.TargetID.String(), score,
		computedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert similarity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit similarity: %w", err)
	}
	return nil
}

// GetSimilar returns decisions connected to decisionID by an outbound edge
// with score >= threshold, ordered by score descending.
func (s *Store) GetSimilar(ctx context.Context, decisionID uuid.UUID, threshold float64, limit int) ([]ScoredDecision, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.question, d.timestamp, d.consensus, d.winning_option,
		        d.convergence_status, d.participants, d.transcript_path, d.metadata,
		        sim.similarity_score
		 FROM similarities sim
		 JOIN decisions d ON d.id = sim.target_id
		 WHERE sim.source_id = ? AND sim.similarity_score >= ?
		 ORDER BY sim.similarity_score DESC
		 LIMIT ?`,
		decisionID.String(), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get similar: %w", err)
	}
	defer rows.Close()

	var results []ScoredDecision
	for rows.Next() {
		var (
			node               model.DecisionNode
			id, ts             string
			participants, meta string
			score              float64
		)
		if err := rows.Scan(&id, &node.Question, &ts, &node.Consensus, &node.WinningOption,
			&node.ConvergenceStatus, &participants, &node.TranscriptPath, &meta, &score); err != nil {
			return nil, fmt.Errorf("storage: scan similar decision: %w", err)
		}
		if node, err = hydrateDecision(node, id, ts, participants, meta); err != nil {
			return nil, fmt.Errorf("storage: hydrate similar decision: %w", err)
		}
		results = append(results, ScoredDecision{Node: node, Score: score})
	}
	return results, rows.Err()
}

// GetEdges returns all outbound edges for a decision, strongest first.
func (s *Store) GetEdges(ctx context.Context, decisionID uuid.UUID) ([]model.SimilarityEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, similarity_score, computed_at
		 FROM similarities WHERE source_id = ?
		 ORDER BY similarity_score DESC`, decisionID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: get edges: %w", err)
	}
	defer rows.Close()

	var edges []model.SimilarityEdge
	for rows.Next() {
		var (
			edge     model.SimilarityEdge
			src, tgt string
			at       string
		)
		if err := rows.Scan(&src, &tgt, &edge.Score, &at); err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		if edge.SourceID, err = uuid.Parse(src); err != nil {
			return nil, fmt.Errorf("storage: parse edge source %q: %w", src, err)
		}
		if edge.TargetID, err = uuid.Parse(tgt); err != nil {
			return nil, fmt.Errorf("storage: parse edge target %q: %w", tgt, err)
		}
		if edge.ComputedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("storage: parse edge computed_at %q: %w", at, err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// CountEdges returns the total number of similarity edges.
func (s *Store) CountEdges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similarities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count edges: %w", err)
	}
	return n, nil
}
