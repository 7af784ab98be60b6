package engine

import (
	"strings"

	"github.com/ashita-ai/gogi/internal/model"
)

// parseSummary extracts the structured sections from a summarizer response.
// The format is forgiving: headers are matched case-insensitively, bullets
// under a list header accumulate until the next header, and a consensus
// value continuing on the following lines is folded in. A response with no
// recognizable headers yields a summary whose consensus is the whole text.
func parseSummary(response string) model.Summary {
	var s model.Summary
	section := ""
	sawHeader := false

	appendValue := func(target *string, value string) {
		if *target == "" {
			*target = value
		} else if value != "" {
			*target += " " + value
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "consensus:"):
			section = "consensus"
			sawHeader = true
			appendValue(&s.Consensus, strings.TrimSpace(trimmed[len("consensus:"):]))
		case strings.HasPrefix(lower, "key agreements:"):
			section = "agreements"
			sawHeader = true
		case strings.HasPrefix(lower, "key disagreements:"):
			section = "disagreements"
			sawHeader = true
		case strings.HasPrefix(lower, "final recommendation:"):
			section = "recommendation"
			sawHeader = true
			appendValue(&s.FinalRecommendation, strings.TrimSpace(trimmed[len("final recommendation:"):]))
		case trimmed == "":
		case strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*"):
			item := strings.TrimSpace(strings.TrimLeft(trimmed, "-* "))
			if item == "" {
				continue
			}
			switch section {
			case "agreements":
				s.KeyAgreements = append(s.KeyAgreements, item)
			case "disagreements":
				s.KeyDisagreements = append(s.KeyDisagreements, item)
			}
		default:
			switch section {
			case "consensus":
				appendValue(&s.Consensus, trimmed)
			case "recommendation":
				appendValue(&s.FinalRecommendation, trimmed)
			}
		}
	}

	if !sawHeader {
		s.Consensus = strings.TrimSpace(response)
	}
	return s
}

// placeholderSummary stands in when the summarizer invocation failed. The
// deliberation itself still completed; only the synthesis is missing.
func placeholderSummary() model.Summary {
	return model.Summary{
		Consensus:           "Summary unavailable: the summarizer invocation failed. See the full debate transcript.",
		FinalRecommendation: "Review the transcript directly.",
	}
}
