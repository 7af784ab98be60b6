package model

// ConvergenceStatus classifies the similarity trend of a deliberation.
// The first four values come from round-over-round analysis; the voting
// outcomes override them in the final result when votes were cast.
type ConvergenceStatus string

const (
	ConvergenceConverged ConvergenceStatus = "converged"
	ConvergenceRefining  ConvergenceStatus = "refining"
	ConvergenceDiverging ConvergenceStatus = "diverging"
	ConvergenceImpasse   ConvergenceStatus = "impasse"
	ConvergenceMaxRounds ConvergenceStatus = "max_rounds"
	ConvergenceUnanimous ConvergenceStatus = "unanimous_consensus"
	ConvergenceMajority  ConvergenceStatus = "majority_decision"
	ConvergenceTie       ConvergenceStatus = "tie"
	ConvergenceUnknown   ConvergenceStatus = "unknown"
)

// ConvergenceInfo is the per-deliberation convergence report.
type ConvergenceInfo struct {
	Detected                 bool               `json:"detected"`
	DetectionRound           *int               `json:"detection_round,omitempty"`
	FinalSimilarity          float64            `json:"final_similarity"`
	Status                   ConvergenceStatus  `json:"status"`
	ScoresByRound            []float64          `json:"scores_by_round"`
	PerParticipantSimilarity map[string]float64 `json:"per_participant_similarity,omitempty"`
}
