// Package transcript renders completed deliberations to markdown files.
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/gogi/internal/model"
)

// slugMaxLen bounds the question-derived filename segment.
const slugMaxLen = 48

// Writer persists one markdown transcript per deliberation.
type Writer struct {
	dir string
}

// NewWriter builds a writer targeting dir, creating it on first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write renders the deliberation and stores it under a timestamped,
// question-slugged filename. The content hash lands in the result metadata
// so later tampering is detectable.
func (w *Writer) Write(question string, result *model.DeliberationResult) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("transcript: create dir %s: %w", w.dir, err)
	}

	content := render(question, result)
	name := fmt.Sprintf("%s_%s.md", time.Now().UTC().Format("20060102T150405Z"), slug(question))
	path := filepath.Join(w.dir, name)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("transcript: write %s: %w", path, err)
	}

	sum := sha256.Sum256([]byte(content))
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["transcript_sha256"] = hex.EncodeToString(sum[:])

	return path, nil
}

// slug reduces the question to lowercase alphanumerics and hyphens.
func slug(question string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(question) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
		if b.Len() >= slugMaxLen {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "deliberation"
	}
	return s
}

func render(question string, result *model.DeliberationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deliberation: %s\n\n", question)
	fmt.Fprintf(&b, "- **Participants:** %s\n", strings.Join(result.Participants, ", "))
	fmt.Fprintf(&b, "- **Mode:** %s\n", result.Mode)
	fmt.Fprintf(&b, "- **Rounds completed:** %d\n", result.RoundsCompleted)
	fmt.Fprintf(&b, "- **Status:** %s\n", result.Status)

	renderRounds(&b, result)
	renderVoting(&b, result.VotingResult)
	renderConvergence(&b, result.ConvergenceInfo)
	renderSummary(&b, result.Summary)

	return b.String()
}

func renderRounds(b *strings.Builder, result *model.DeliberationResult) {
	currentRound := 0
	for _, r := range result.FullDebate {
		if r.Round != currentRound {
			currentRound = r.Round
			fmt.Fprintf(b, "\n## Round %d\n", currentRound)
		}
		fmt.Fprintf(b, "\n### %s\n\n%s\n", r.ParticipantID, r.Response)
	}
}

// renderVoting is omitted entirely when no votes were cast.
func renderVoting(b *strings.Builder, voting *model.VotingResult) {
	if voting == nil || voting.TotalVotes() == 0 {
		return
	}

	b.WriteString("\n## Voting Results\n\n")
	options := make([]string, 0, len(voting.Tally))
	for option := range voting.Tally {
		options = append(options, option)
	}
	sort.Strings(options)
	for _, option := range options {
		fmt.Fprintf(b, "- %s: %d\n", option, voting.Tally[option])
	}
	if voting.WinningOption != nil {
		fmt.Fprintf(b, "\n**Winner:** %s\n", *voting.WinningOption)
	} else {
		b.WriteString("\n**Winner:** none (tie)\n")
	}
	b.WriteString("\n| Round | Participant | Option | Confidence | Continue |\n")
	b.WriteString("|-------|-------------|--------|------------|----------|\n")
	for _, rv := range voting.VotesByRound {
		fmt.Fprintf(b, "| %d | %s | %s | %.2f | %t |\n",
			rv.Round, rv.ParticipantID, rv.Vote.Option, rv.Vote.Confidence, rv.Vote.ContinueDebate)
	}
}

func renderConvergence(b *strings.Builder, info *model.ConvergenceInfo) {
	if info == nil {
		return
	}

	b.WriteString("\n## Convergence\n\n")
	fmt.Fprintf(b, "- **Status:** %s\n", info.Status)
	fmt.Fprintf(b, "- **Final similarity:** %.3f\n", info.FinalSimilarity)
	for i, score := range info.ScoresByRound {
		fmt.Fprintf(b, "- Round %d: %.3f\n", i+2, score)
	}
}

func renderSummary(b *strings.Builder, summary model.Summary) {
	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(b, "**Consensus:** %s\n", summary.Consensus)

	if len(summary.KeyAgreements) > 0 {
		b.WriteString("\n**Key agreements:**\n")
		for _, item := range summary.KeyAgreements {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
	if len(summary.KeyDisagreements) > 0 {
		b.WriteString("\n**Key disagreements:**\n")
		for _, item := range summary.KeyDisagreements {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
	if summary.FinalRecommendation != "" {
		fmt.Fprintf(b, "\n**Final recommendation:** %s\n", summary.FinalRecommendation)
	}
}
