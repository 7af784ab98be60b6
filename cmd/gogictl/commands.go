package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/worker"
)

func newListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			decisions, err := store.ListDecisions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if len(decisions) == 0 {
				fmt.Println("No decisions recorded.")
				return nil
			}
			for _, d := range decisions {
				fmt.Printf("%s  %s  %-12s  %s\n",
					shortID(d.ID),
					d.Timestamp.Format("2006-01-02 15:04"),
					d.ConvergenceStatus,
					clip(d.Question, 70))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum decisions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "decisions to skip")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <decision-id>",
		Short: "Show one decision with stances and similarity edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("decision id must be a UUID: %w", err)
			}
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			d, err := store.GetDecision(ctx, id)
			if err != nil {
				return err
			}
			stances, err := store.GetStances(ctx, id)
			if err != nil {
				return err
			}
			edges, err := store.GetEdges(ctx, id)
			if err != nil {
				return err
			}

			printDecision(d)
			if len(stances) > 0 {
				fmt.Println("\nStances:")
				for _, st := range stances {
					vote := "abstained"
					if st.VoteOption != nil {
						vote = *st.VoteOption
						if st.Confidence != nil {
							vote = fmt.Sprintf("%s (%.2f)", vote, *st.Confidence)
						}
					}
					fmt.Printf("  %-24s %s\n", st.ParticipantID, vote)
				}
			}
			if len(edges) > 0 {
				fmt.Println("\nSimilar decisions:")
				for _, e := range edges {
					fmt.Printf("  %s  %.3f\n", shortID(e.TargetID), e.Score)
				}
			}
			return nil
		},
	}
}

func newSimilarCmd() *cobra.Command {
	var threshold float64
	var limit int
	cmd := &cobra.Command{
		Use:   "similar <decision-id>",
		Short: "List decisions similar to the given one, best first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("decision id must be a UUID: %w", err)
			}
			store, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if threshold < 0 {
				threshold = cfg.DecisionGraph.TierBoundaries.Moderate
			}
			results, err := store.GetSimilar(cmd.Context(), id, threshold, limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No similar decisions above the threshold.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.Score, shortID(r.Node.ID), clip(r.Node.Question, 70))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", -1, "minimum similarity score (default: the moderate tier boundary)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func newContradictionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "contradictions",
		Short: "List pairs of similar decisions that settled on different outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			svc := graph.NewService(store, nil, nil, nil, cfg.DecisionGraph, quietLogger())
			pairs, err := svc.FindContradictions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				fmt.Println("No contradicting decision pairs found.")
				return nil
			}
			for _, p := range pairs {
				fmt.Printf("%.3f\n  %s  %s -> %s\n  %s  %s -> %s\n",
					p.Score,
					shortID(p.A.ID), clip(p.A.Question, 60), option(p.A),
					shortID(p.B.ID), clip(p.B.Question, 60), option(p.B))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum pairs")
	return cmd
}

func newRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute similarity edges for every decision",
		Long: "Rescores every decision against its query window using the configured " +
			"similarity backend. Useful after switching backends or changing the " +
			"embedding model.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			backend := selectBackend(ctx, cfg)
			w := worker.New(store, backend, cfg.DecisionGraph.Worker, quietLogger())

			fmt.Printf("Recomputing with the %s backend...\n", backend.Name())
			total, failed := 0, 0
			for offset := 0; ; offset += 100 {
				page, err := store.ListDecisions(ctx, 100, offset)
				if err != nil {
					return err
				}
				if len(page) == 0 {
					break
				}
				for _, d := range page {
					if err := w.Compute(ctx, d.ID); err != nil {
						failed++
						fmt.Fprintf(os.Stderr, "  %s: %v\n", shortID(d.ID), err)
						continue
					}
					total++
				}
			}

			edges, err := store.CountEdges(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Recomputed %d decisions (%d failed), %d edges stored.\n", total, failed, edges)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show decision graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			decisions, err := store.CountDecisions(ctx)
			if err != nil {
				return err
			}
			edges, err := store.CountEdges(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Database:  %s\nDecisions: %d\nEdges:     %d\n", store.Path(), decisions, edges)
			return nil
		},
	}
}

// selectBackend mirrors the server's backend selection, minus the shared
// embedding cache: recompute is a one-shot batch.
func selectBackend(ctx context.Context, cfg *config.Config) similarity.Backend {
	override := cfg.DecisionGraph.SimilarityBackend
	if override == config.BackendAuto {
		override = ""
	}
	var provider *similarity.OllamaProvider
	if override == "" || override == config.BackendEmbedding {
		provider = similarity.NewOllamaProvider(
			cfg.DecisionGraph.Embedding.BaseURL,
			cfg.DecisionGraph.Embedding.Model,
		)
	}
	return similarity.Select(ctx, override, provider, nil, quietLogger())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printDecision(d model.DecisionNode) {
	fmt.Println(d.Question)
	fmt.Printf("  id:         %s\n", d.ID)
	fmt.Printf("  decided:    %s\n", d.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  status:     %s\n", d.ConvergenceStatus)
	if d.WinningOption != nil {
		fmt.Printf("  winner:     %s\n", *d.WinningOption)
	}
	if len(d.Participants) > 0 {
		fmt.Printf("  panel:      %s\n", strings.Join(d.Participants, ", "))
	}
	if d.TranscriptPath != "" {
		fmt.Printf("  transcript: %s\n", d.TranscriptPath)
	}
	fmt.Printf("\n%s\n", d.Consensus)
}

func option(d model.DecisionNode) string {
	if d.WinningOption == nil {
		return ""
	}
	return *d.WinningOption
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
