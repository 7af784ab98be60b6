// Package vote extracts structured ballots from free-form deliberation
// responses and aggregates them across rounds.
//
// A ballot is a line starting with "VOTE:" followed by a JSON object. The
// object may spill onto subsequent lines; extraction scans for the balanced
// closing brace rather than stopping at the line end.
package vote

import (
	"encoding/json"
	"strings"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
)

// voteMarker introduces a ballot line. Matching is prefix-based on the
// whitespace-trimmed line.
const voteMarker = "VOTE:"

// rawVote distinguishes an absent continue_debate from an explicit false.
type rawVote struct {
	Option         string  `json:"option"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
	ContinueDebate *bool   `json:"continue_debate"`
}

// Parse extracts the first ballot from a response. The second return is
// false when no well-formed ballot exists; a malformed or empty-option
// ballot never aborts a deliberation.
func Parse(response string) (*model.Vote, bool) {
	offset := 0
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, voteMarker) {
			offset += len(line) + 1
			continue
		}

		markerAt := offset + strings.Index(line, voteMarker)
		payload := response[markerAt+len(voteMarker):]
		obj, ok := extractJSONObject(payload)
		if !ok {
			return nil, false
		}

		var raw rawVote
		if err := json.Unmarshal([]byte(obj), &raw); err != nil {
			return nil, false
		}
		if strings.TrimSpace(raw.Option) == "" {
			return nil, false
		}

		v := &model.Vote{
			Option:         strings.TrimSpace(raw.Option),
			Confidence:     clamp01(raw.Confidence),
			Rationale:      raw.Rationale,
			ContinueDebate: true,
		}
		if raw.ContinueDebate != nil {
			v.ContinueDebate = *raw.ContinueDebate
		}
		return v, true
	}
	return nil, false
}

// extractJSONObject returns the first balanced {...} span in s. Braces inside
// JSON strings do not count; escapes inside strings are honored.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Aggregate tallies every cast vote. Returns nil when no votes exist so
// callers can omit the voting section entirely.
func Aggregate(votes []model.RoundVote) *model.VotingResult {
	if len(votes) == 0 {
		return nil
	}

	result := &model.VotingResult{
		Tally:        make(map[string]int),
		VotesByRound: votes,
	}
	for _, rv := range votes {
		result.Tally[rv.Vote.Option]++
	}

	best, bestCount, unique := "", 0, false
	for option, count := range result.Tally {
		switch {
		case count > bestCount:
			best, bestCount, unique = option, count, true
		case count == bestCount:
			unique = false
		}
	}
	if unique {
		result.WinningOption = &best
		result.ConsensusReached = bestCount*2 > result.TotalVotes()
	}
	return result
}

// ShouldStop reports whether the latest round's ballots end the debate
// early. A participant without a ballot counts as wanting to continue.
func ShouldStop(round int, latest []model.RoundVote, participants int, cfg config.EarlyStoppingConfig) bool {
	if !cfg.Enabled || participants == 0 || round < cfg.MinRounds {
		return false
	}

	stop := 0
	for _, rv := range latest {
		if !rv.Vote.ContinueDebate {
			stop++
		}
	}
	return float64(stop)/float64(participants) >= cfg.Threshold
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
