// Package model defines the domain types shared across the deliberation
// engine, the decision graph, and the MCP surface.
package model

import (
	"fmt"
	"time"
)

// Mode selects how many rounds a deliberation runs.
type Mode string

const (
	// ModeQuick forces a single round regardless of the requested count.
	ModeQuick Mode = "quick"
	// ModeConference runs the full multi-round debate.
	ModeConference Mode = "conference"
)

// DeliberationStatus describes how far a deliberation got.
type DeliberationStatus string

const (
	StatusComplete DeliberationStatus = "complete"
	StatusPartial  DeliberationStatus = "partial"
	StatusFailed   DeliberationStatus = "failed"
)

// Participant names one (adapter, model) pair contributing to a deliberation.
// Model may be empty when the adapter has a single implicit model.
type Participant struct {
	CLI   string `json:"cli"`
	Model string `json:"model,omitempty"`
}

// ID returns the composite identity used in logs, transcripts, and storage.
func (p Participant) ID() string {
	if p.Model == "" {
		return p.CLI
	}
	return fmt.Sprintf("%s@%s", p.Model, p.CLI)
}

// DeliberateRequest is the input to one deliberation.
type DeliberateRequest struct {
	Question         string        `json:"question"`
	Participants     []Participant `json:"participants"`
	Rounds           int           `json:"rounds"`
	Mode             Mode          `json:"mode"`
	Context          string        `json:"context,omitempty"`
	WorkingDirectory string        `json:"working_directory"`
}

// Summary is the structured synthesis produced by the summarizer invocation.
type Summary struct {
	Consensus           string   `json:"consensus"`
	KeyAgreements       []string `json:"key_agreements"`
	KeyDisagreements    []string `json:"key_disagreements"`
	FinalRecommendation string   `json:"final_recommendation"`
}

// ToolExecution records one tool invocation requested by a participant
// during a round. Err is set instead of Output when the execution failed.
type ToolExecution struct {
	Round     int            `json:"round"`
	Requester string         `json:"requester"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	Err       string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeliberationResult is the full outcome of one deliberation.
type DeliberationResult struct {
	Status              DeliberationStatus `json:"status"`
	Mode                Mode               `json:"mode"`
	RoundsCompleted     int                `json:"rounds_completed"`
	Participants        []string           `json:"participants"`
	Summary             Summary            `json:"summary"`
	FullDebate          []RoundResponse    `json:"full_debate"`
	ConvergenceInfo     *ConvergenceInfo   `json:"convergence_info,omitempty"`
	VotingResult        *VotingResult      `json:"voting_result,omitempty"`
	GraphContextSummary string             `json:"graph_context_summary,omitempty"`
	ToolExecutions      []ToolExecution    `json:"tool_executions,omitempty"`
	TranscriptPath      string             `json:"transcript_path,omitempty"`
	Metadata            map[string]any     `json:"metadata,omitempty"`
}

// LastResponseOf returns the most recent response by the given participant,
// or nil when the participant never answered.
func (r *DeliberationResult) LastResponseOf(participantID string) *RoundResponse {
	for i := len(r.FullDebate) - 1; i >= 0; i-- {
		if r.FullDebate[i].ParticipantID == participantID {
			return &r.FullDebate[i]
		}
	}
	return nil
}
