// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/expand"
	"github.com/Annh770/Blatt/internal/export"
	"github.com/Annh770/Blatt/internal/retrieval"
	"github.com/Annh770/Blatt/internal/scoring"
	"github.com/Annh770/Blatt/internal/store"
	"github.com/Annh770/Blatt/pkg/types"
)

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Expand a citation network from seed keywords",
	Long: `Expand searches academic APIs for papers matching the seed keywords,
follows citations and references round by round, scores each discovered
paper against the research topic, and saves the resulting graph as a
session. Papers at or above the priority threshold drive the next round.

Interrupting with Ctrl-C stops the expansion and saves what has been
gathered so far as a partial session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keywords, _ := cmd.Flags().GetString("keywords")
		description, _ := cmd.Flags().GetString("description")
		queries, _ := cmd.Flags().GetStringArray("query")
		asJSON, _ := cmd.Flags().GetBool("json")

		if strings.TrimSpace(keywords) == "" {
			return fmt.Errorf("--keywords is required")
		}

		cfg := engineConfig()
		applyExpandFlags(cmd, &cfg)

		if cfg.Scoring.APIKey == "" {
			return fmt.Errorf("no Anthropic API key: set scoring.api_key or .secrets/anthropic-api-key")
		}

		seed := types.SeedContext{
			Keywords:    keywords,
			Description: description,
			Queries:     queries,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		policy := capability.PolicyFromConfig(cfg.Retry)
		budget := capability.NewBudget(cfg.Expansion.CallBudget)

		s2 := retrieval.NewSemanticScholarClient(cfg.Retrieval)
		backends := []retrieval.SearchBackend{s2}
		if cfg.Retrieval.EnableOpenAlex {
			backends = append(backends, retrieval.NewOpenAlexBackend(cfg.Retrieval))
		}
		if cfg.Retrieval.EnableArxiv {
			backends = append(backends, retrieval.NewArxivBackend(cfg.Retrieval))
		}

		scorer, err := scoring.NewScorer(scoring.NewClaudeBackend(cfg.Scoring), seed, cfg.Scoring, policy, budget)
		if err != nil {
			return err
		}

		scheduler := expand.NewScheduler(backends, s2, scorer, cfg, policy, budget, os.Stderr)
		snap, runErr := scheduler.Run(ctx, seed)

		// Save whatever was gathered, partial or not.
		if len(snap.Papers) > 0 {
			db, err := store.NewStore(cfg.Store)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not open session store: %v\n", err)
			} else {
				defer db.Close()
				if err := db.SaveSession(context.Background(), snap); err != nil {
					fmt.Fprintf(os.Stderr, "warning: saving session failed: %v\n", err)
				} else {
					fmt.Fprintf(os.Stderr, "Session saved: %s\n", snap.SessionID)
				}
			}
		}

		if runErr != nil && !errors.Is(runErr, expand.ErrCancelled) {
			return runErr
		}

		view := export.Assemble(snap, cfg.Expansion.PriorityThreshold)
		if asJSON {
			if err := export.FormatJSON(view, os.Stdout); err != nil {
				return err
			}
		} else {
			export.FormatTable(view, os.Stdout)
		}

		if errors.Is(runErr, expand.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "Expansion interrupted; partial session saved.")
		}
		return nil
	},
}

// applyExpandFlags overrides config values with explicitly set flags.
func applyExpandFlags(cmd *cobra.Command, cfg *types.EngineConfig) {
	if cmd.Flags().Changed("max-rounds") {
		cfg.Expansion.MaxRounds, _ = cmd.Flags().GetInt("max-rounds")
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Expansion.PriorityThreshold, _ = cmd.Flags().GetInt("threshold")
	}
	if cmd.Flags().Changed("budget") {
		cfg.Expansion.CallBudget, _ = cmd.Flags().GetInt("budget")
	}
	if cmd.Flags().Changed("max-discovered") {
		cfg.Expansion.MaxDiscovered, _ = cmd.Flags().GetInt("max-discovered")
	}
	if cmd.Flags().Changed("year-from") {
		cfg.Retrieval.YearFrom, _ = cmd.Flags().GetInt("year-from")
	}
	if cmd.Flags().Changed("min-citations") {
		cfg.Retrieval.MinCitationCount, _ = cmd.Flags().GetInt("min-citations")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Store.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("no-openalex") {
		cfg.Retrieval.EnableOpenAlex = false
	}
	if cmd.Flags().Changed("no-arxiv") {
		cfg.Retrieval.EnableArxiv = false
	}
}

func init() {
	expandCmd.Flags().String("keywords", "", "comma-separated research keywords (required)")
	expandCmd.Flags().String("description", "", "free-text description of the research intent")
	expandCmd.Flags().StringArray("query", nil, "explicit seed search query (repeatable; default: keywords)")
	expandCmd.Flags().Int("max-rounds", 3, "maximum expansion rounds after the seed round")
	expandCmd.Flags().Int("threshold", 4, "minimum priority (1-5) to expand a paper")
	expandCmd.Flags().Int("budget", 0, "maximum capability calls for the session (0 = unlimited)")
	expandCmd.Flags().Int("max-discovered", 200, "maximum papers discovered per session")
	expandCmd.Flags().Int("year-from", 0, "drop papers published before this year")
	expandCmd.Flags().Int("min-citations", 0, "drop papers cited fewer times")
	expandCmd.Flags().String("data-dir", "data", "directory for the session database")
	expandCmd.Flags().Bool("no-openalex", false, "disable the OpenAlex seed backend")
	expandCmd.Flags().Bool("no-arxiv", false, "disable the arXiv seed backend")
	expandCmd.Flags().Bool("json", false, "output the scored view as JSON")

	rootCmd.AddCommand(expandCmd)
}
