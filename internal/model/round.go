package model

import "time"

// RoundResponse is one participant's contribution in one round.
// Immutable once recorded; failed invocations carry an [ERROR: kind]
// sentinel in Response so every (round, participant) slot is present.
type RoundResponse struct {
	Round         int       `json:"round"`
	ParticipantID string    `json:"participant_id"`
	Response      string    `json:"response"`
	Timestamp     time.Time `json:"timestamp"`
}

// Vote is the structured ballot embedded in an otherwise free-form response.
type Vote struct {
	Option         string  `json:"option"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
	ContinueDebate bool    `json:"continue_debate"`
}

// RoundVote ties a parsed vote to the round and participant that cast it.
type RoundVote struct {
	Round         int       `json:"round"`
	ParticipantID string    `json:"participant_id"`
	Vote          Vote      `json:"vote"`
	Timestamp     time.Time `json:"timestamp"`
}

// VotingResult aggregates all votes cast across a deliberation.
type VotingResult struct {
	// Tally counts each option across every (round, participant) vote.
	Tally map[string]int `json:"tally"`
	// VotesByRound preserves (round, participant) insertion order.
	VotesByRound []RoundVote `json:"votes_by_round"`
	// ConsensusReached is true when one option took >50% of votes cast.
	ConsensusReached bool `json:"consensus_reached"`
	// WinningOption is the unique plurality option; nil on a tie.
	WinningOption *string `json:"winning_option,omitempty"`
}

// TotalVotes returns the number of votes cast across all rounds.
func (v *VotingResult) TotalVotes() int {
	n := 0
	for _, c := range v.Tally {
		n += c
	}
	return n
}

// Unanimous reports whether every cast vote chose the same option.
// False when no votes were cast.
func (v *VotingResult) Unanimous() bool {
	return len(v.Tally) == 1 && v.TotalVotes() > 0
}
