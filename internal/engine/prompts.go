package engine

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/gogi/internal/model"
)

// roundPrompt is the instruction block every participant receives. The vote
// and tool formats here must match what the vote and tools parsers accept.
func roundPrompt(question string, round, totalRounds int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are one voice in a structured deliberation (round %d of %d).\n\n", round, totalRounds)
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	b.WriteString("State your position with concrete reasoning. Engage with the other participants' arguments from the context above when they exist.\n\n")
	b.WriteString("You may optionally end with a vote on a single line:\n")
	b.WriteString(`VOTE: {"option": "<your choice>", "confidence": 0.0-1.0, "rationale": "<why>", "continue_debate": true|false}` + "\n\n")
	b.WriteString("Set continue_debate to false only when further rounds would not change your position.\n")
	b.WriteString("To inspect the project before answering, emit a line:\n")
	b.WriteString(`TOOL_REQUEST: {"name": "read_file|search_code|list_files|run_command|get_file_tree", "arguments": {...}}` + "\n")
	return b.String()
}

// summaryPrompt asks the summarizer for the canonical section headers the
// parser in summary.go expects.
func summaryPrompt(question string, debate []model.RoundResponse) string {
	var b strings.Builder
	b.WriteString("Summarize the following multi-model deliberation.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	b.WriteString(renderDebate(debate))
	b.WriteString("\n\nRespond using exactly these headers:\n")
	b.WriteString("CONSENSUS: <one sentence, or \"none\" if the participants did not agree>\n")
	b.WriteString("KEY AGREEMENTS:\n- <bullet per agreement>\n")
	b.WriteString("KEY DISAGREEMENTS:\n- <bullet per disagreement>\n")
	b.WriteString("FINAL RECOMMENDATION: <one or two sentences>\n")
	return b.String()
}

// renderDebate formats prior rounds for context injection and for the
// summarizer.
func renderDebate(debate []model.RoundResponse) string {
	var b strings.Builder
	currentRound := 0
	for _, r := range debate {
		if r.Round != currentRound {
			currentRound = r.Round
			fmt.Fprintf(&b, "\n## Round %d\n", currentRound)
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", r.ParticipantID, r.Response)
	}
	return strings.TrimSpace(b.String())
}
