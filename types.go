package gogi

import "github.com/ashita-ai/gogi/internal/model"

// Re-exported domain types so embedders can build requests and read
// results without importing internal packages.
type (
	Mode               = model.Mode
	DeliberationStatus = model.DeliberationStatus
	Participant        = model.Participant
	DeliberateRequest  = model.DeliberateRequest
	Summary            = model.Summary
	ToolExecution      = model.ToolExecution
	DeliberationResult = model.DeliberationResult
	RoundResponse      = model.RoundResponse
	Vote               = model.Vote
	RoundVote          = model.RoundVote
	VotingResult       = model.VotingResult
	DecisionNode       = model.DecisionNode
	ParticipantStance  = model.ParticipantStance
	SimilarityEdge     = model.SimilarityEdge
	ConvergenceStatus  = model.ConvergenceStatus
	ConvergenceInfo    = model.ConvergenceInfo
)

const (
	ModeQuick      = model.ModeQuick
	ModeConference = model.ModeConference

	StatusComplete = model.StatusComplete
	StatusPartial  = model.StatusPartial
	StatusFailed   = model.StatusFailed
)
