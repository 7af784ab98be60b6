package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/gogi/internal/model"
)

// SaveDecision inserts a decision node in its own transaction and returns it.
// A nil ID or zero timestamp is filled in before insert.
func (s *Store) SaveDecision(ctx context.Context, node model.DecisionNode) (model.DecisionNode, error) {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DecisionNode{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDecision(ctx, tx, node); err != nil {
		return model.DecisionNode{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DecisionNode{}, fmt.Errorf("storage: commit decision: %w", err)
	}
	return node, nil
}

// SaveDeliberation persists a decision node together with its participant
// stances in a single transaction. Either everything lands or nothing does.
func (s *Store) SaveDeliberation(ctx context.Context, node model.DecisionNode, stances []model.ParticipantStance) (model.DecisionNode, error) {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DecisionNode{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDecision(ctx, tx, node); err != nil {
		return model.DecisionNode{}, err
	}
	for _, st := range stances {
		st.DecisionID = node.ID
		if _, err := insertStance(ctx, tx, st); err != nil {
			return model.DecisionNode{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.DecisionNode{}, fmt.Errorf("storage: commit deliberation: %w", err)
	}
	return node, nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, node model.DecisionNode) error {
	participants, err := json.Marshal(node.Participants)
	if err != nil {
		return fmt.Errorf("storage: marshal participants: %w", err)
	}
	if node.Metadata == nil {
		node.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decisions (id, question, timestamp, consensus, winning_option,
		 convergence_status, participants, transcript_path, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID.String(), node.Question, node.Timestamp.UTC().Format(time.RFC3339Nano),
		node.Consensus, node.WinningOption, node.ConvergenceStatus,
		string(participants), node.TranscriptPath, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

const decisionColumns = `id, question, timestamp, consensus, winning_option,
	convergence_status, participants, transcript_path, metadata`

// GetDecision retrieves a decision node by ID.
func (s *Store) GetDecision(ctx context.Context, id uuid.UUID) (model.DecisionNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id.String())
	node, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DecisionNode{}, fmt.Errorf("storage: get decision %s: %w", id, ErrNotFound)
		}
		return model.DecisionNode{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return node, nil
}

// ListDecisions returns decisions newest-first with pagination.
func (s *Store) ListDecisions(ctx context.Context, limit, offset int) ([]model.DecisionNode, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var nodes []model.DecisionNode
	for rows.Next() {
		node, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// FindByQuestion returns decisions whose question matches exactly,
// newest-first. Used for dedup checks and the question lookup index.
func (s *Store) FindByQuestion(ctx context.Context, question string, limit int) ([]model.DecisionNode, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE question = ? ORDER BY timestamp DESC LIMIT ?`, question, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: find by question: %w", err)
	}
	defer rows.Close()

	var nodes []model.DecisionNode
	for rows.Next() {
		node, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// CountDecisions returns the total number of stored decisions.
func (s *Store) CountDecisions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count decisions: %w", err)
	}
	return n, nil
}

// scanner abstracts sql.Row and sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(sc scanner) (model.DecisionNode, error) {
	var (
		node         model.DecisionNode
		id, ts       string
		participants string
		metadata     string
	)
	if err := sc.Scan(&id, &node.Question, &ts, &node.Consensus, &node.WinningOption,
		&node.ConvergenceStatus, &participants, &node.TranscriptPath, &metadata); err != nil {
		return model.DecisionNode{}, err
	}
	return hydrateDecision(node, id, ts, participants, metadata)
}

// hydrateDecision fills the parsed fields shared by every decision scan.
func hydrateDecision(node model.DecisionNode, id, ts, participants, metadata string) (model.DecisionNode, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.DecisionNode{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	node.ID = parsed

	node.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.DecisionNode{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	if err := json.Unmarshal([]byte(participants), &node.Participants); err != nil {
		return model.DecisionNode{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &node.Metadata); err != nil {
		return model.DecisionNode{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return node, nil
}
