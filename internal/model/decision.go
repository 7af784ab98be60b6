package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionNode is one completed deliberation persisted to the decision graph.
// Immutable after insert.
type DecisionNode struct {
	ID                uuid.UUID      `json:"id"`
	Question          string         `json:"question"`
	Timestamp         time.Time      `json:"timestamp"`
	Consensus         string         `json:"consensus"`
	WinningOption     *string        `json:"winning_option,omitempty"`
	ConvergenceStatus string         `json:"convergence_status"`
	Participants      []string       `json:"participants"`
	TranscriptPath    string         `json:"transcript_path,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ParticipantStance is one participant's final position on a decision.
// Vote fields are nil when the participant never cast a vote.
type ParticipantStance struct {
	ID            int64     `json:"id"`
	DecisionID    uuid.UUID `json:"decision_id"`
	ParticipantID string    `json:"participant_id"`
	VoteOption    *string   `json:"vote_option,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Rationale     *string   `json:"rationale,omitempty"`
	FinalPosition string    `json:"final_position"`
}

// SimilarityEdge is a directed similarity relation between two decisions.
// Both directions are materialized so lookups stay one-sided.
type SimilarityEdge struct {
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	Score      float64   `json:"similarity_score"`
	ComputedAt time.Time `json:"computed_at"`
}
