// Package convergence tracks whether deliberation participants are settling
// on a shared position across rounds.
//
// One Detector instance serves one deliberation. Each round it scores every
// participant's response against that participant's previous response and
// reduces the map to its minimum: convergence claims require the least
// converged participant to have stabilized.
package convergence

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/similarity"
)

// Result is one round's convergence reading.
type Result struct {
	Round          int
	MinSimilarity  float64
	PerParticipant map[string]float64
	Status         model.ConvergenceStatus
	// Detected is true only when the converged status held for the
	// configured number of consecutive rounds.
	Detected bool
}

// Detector accumulates round-over-round similarity state for one
// deliberation. Not safe for concurrent use; the engine checks rounds
// sequentially.
type Detector struct {
	backend similarity.Backend
	cfg     config.ConvergenceConfig
	logger  *slog.Logger

	consecutiveStable int
	impasseCount      int
	scoresByRound     []float64
	detectionRound    *int
	lastResult        *Result
}

// NewDetector builds a detector for one deliberation.
func NewDetector(backend similarity.Backend, cfg config.ConvergenceConfig, logger *slog.Logger) *Detector {
	return &Detector{backend: backend, cfg: cfg, logger: logger}
}

// Check scores the current round against the previous one. Returns nil when
// detection is disabled or the round is below the warm-up threshold.
func (d *Detector) Check(ctx context.Context, roundNum int, prev, curr []model.RoundResponse) *Result {
	if !d.cfg.Enabled || roundNum < d.cfg.MinRoundsBeforeCheck {
		return nil
	}

	perParticipant := d.scoreParticipants(ctx, prev, curr)
	if len(perParticipant) == 0 {
		return nil
	}

	minSim := 1.0
	for _, score := range perParticipant {
		if score < minSim {
			minSim = score
		}
	}
	d.scoresByRound = append(d.scoresByRound, minSim)

	stable := minSim >= d.cfg.SemanticSimilarityThreshold
	if !stable && minSim >= d.cfg.DivergenceThreshold && d.lengthDrop(prev, curr) >= d.cfg.ResponseLengthDropThreshold {
		// Sharply shrinking responses signal models wrapping up even when
		// the text itself still drifts.
		stable = true
	}
	if stable {
		d.consecutiveStable++
	} else {
		d.consecutiveStable = 0
	}

	if minSim >= d.cfg.StanceStabilityThreshold && minSim < d.cfg.SemanticSimilarityThreshold {
		d.impasseCount++
	} else {
		d.impasseCount = 0
	}

	result := &Result{
		Round:          roundNum,
		MinSimilarity:  minSim,
		PerParticipant: perParticipant,
	}
	switch {
	case minSim >= d.cfg.SemanticSimilarityThreshold && d.consecutiveStable >= d.cfg.ConsecutiveStableRounds:
		result.Status = model.ConvergenceConverged
		result.Detected = true
		if d.detectionRound == nil {
			r := roundNum
			d.detectionRound = &r
		}
	case minSim < d.cfg.DivergenceThreshold:
		result.Status = model.ConvergenceDiverging
	case d.impasseCount >= d.cfg.ImpasseRounds:
		result.Status = model.ConvergenceImpasse
	default:
		result.Status = model.ConvergenceRefining
	}

	d.lastResult = result
	return result
}

// scoreParticipants scores each participant present in both rounds.
// Participants that missed either round are skipped, and a backend failure
// skips that participant rather than aborting the round.
func (d *Detector) scoreParticipants(ctx context.Context, prev, curr []model.RoundResponse) map[string]float64 {
	prevByID := make(map[string]string, len(prev))
	for _, r := range prev {
		prevByID[r.ParticipantID] = r.Response
	}

	scores := make(map[string]float64)
	for _, r := range curr {
		prevResp, ok := prevByID[r.ParticipantID]
		if !ok {
			continue
		}
		score, err := d.backend.Score(ctx, prevResp, r.Response)
		if err != nil {
			d.logger.Warn("similarity scoring failed, skipping participant",
				"participant", r.ParticipantID, "backend", d.backend.Name(), "error", err)
			continue
		}
		scores[r.ParticipantID] = score
	}
	return scores
}

// lengthDrop returns the relative decrease of the average response length
// from prev to curr, zero when lengths grew.
func (d *Detector) lengthDrop(prev, curr []model.RoundResponse) float64 {
	prevAvg := avgLength(prev)
	currAvg := avgLength(curr)
	if prevAvg == 0 || currAvg >= prevAvg {
		return 0
	}
	return (prevAvg - currAvg) / prevAvg
}

func avgLength(responses []model.RoundResponse) float64 {
	if len(responses) == 0 {
		return 0
	}
	total := 0
	for _, r := range responses {
		total += len(r.Response)
	}
	return float64(total) / float64(len(responses))
}

// Info assembles the final convergence report for the result payload.
func (d *Detector) Info() *model.ConvergenceInfo {
	if !d.cfg.Enabled || d.lastResult == nil {
		return nil
	}
	return &model.ConvergenceInfo{
		Detected:                 d.lastResult.Detected,
		DetectionRound:           d.detectionRound,
		FinalSimilarity:          d.lastResult.MinSimilarity,
		Status:                   d.lastResult.Status,
		ScoresByRound:            d.scoresByRound,
		PerParticipantSimilarity: d.lastResult.PerParticipant,
	}
}

// FinalStatus resolves the deliberation's final status. Voting outcomes
// override the similarity trend; without votes the similarity status stands,
// degraded to max_rounds when the loop ran out undetected and unknown when
// detection never produced a reading.
func FinalStatus(similarityStatus model.ConvergenceStatus, voting *model.VotingResult) model.ConvergenceStatus {
	if voting != nil && voting.TotalVotes() > 0 {
		switch {
		case voting.Unanimous():
			return model.ConvergenceUnanimous
		case voting.ConsensusReached:
			return model.ConvergenceMajority
		case voting.WinningOption == nil:
			return model.ConvergenceTie
		}
	}
	if similarityStatus == "" {
		return model.ConvergenceUnknown
	}
	return similarityStatus
}
