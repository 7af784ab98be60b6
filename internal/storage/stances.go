package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/gogi/internal/model"
)

// SaveStance inserts a participant stance and returns its row id.
// The referenced decision must exist; foreign keys reject orphans.
func (s *Store) SaveStance(ctx context.Context, st model.ParticipantStance) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertStance(ctx, tx, st)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit stance: %w", err)
	}
	return id, nil
}

func insertStance(ctx context.Context, tx *sql.Tx, st model.ParticipantStance) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO stances (decision_id, participant_id, vote_option, confidence, rationale, final_position)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.DecisionID.String(), st.ParticipantID, st.VoteOption, st.Confidence, st.Rationale, st.FinalPosition,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert stance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: stance row id: %w", err)
	}
	return id, nil
}

// GetStances returns all stances for a decision ordered by participant.
func (s *Store) GetStances(ctx context.Context, decisionID uuid.UUID) ([]model.ParticipantStance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, participant_id, vote_option, confidence, rationale, final_position
		 FROM stances WHERE decision_id = ? ORDER BY participant_id`, decisionID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: get stances: %w", err)
	}
	defer rows.Close()

	var stances []model.ParticipantStance
	for rows.Next() {
		var (
			st  model.ParticipantStance
			did string
		)
		if err := rows.Scan(&st.ID, &did, &st.ParticipantID, &st.VoteOption,
			&st.Confidence, &st.Rationale, &st.FinalPosition); err != nil {
			return nil, fmt.Errorf("storage: scan stance: %w", err)
		}
		parsed, err := uuid.Parse(did)
		if err != nil {
			return nil, fmt.Errorf("storage: parse stance decision id %q: %w", did, err)
		}
		st.DecisionID = parsed
		stances = append(stances, st)
	}
	return stances, rows.Err()
}
