// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the blatt CLI: citation-network
// expansion and relevance scoring for academic research.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Annh770/Blatt/internal/secrets"
	"github.com/Annh770/Blatt/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns the secret value for key if it exists, or fallback otherwise.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the blatt CLI.
var rootCmd = &cobra.Command{
	Use:   "blatt",
	Short: "Citation-network expansion and relevance scoring for academic research",
	Long: `blatt grows a scored citation graph from a set of seed keywords. It
searches academic APIs for seed papers, follows their citations and
references round by round, scores every discovered paper against the
research topic with an AI model, and exports the graph filtered by
relevance.

Run 'blatt expand' to start a session, 'blatt sessions' to list saved
sessions, and 'blatt export' to re-export a saved session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./blatt.yaml or ~/.config/blatt/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blatt")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blatt"))
		}
	}

	viper.SetEnvPrefix("BLATT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// engineConfig assembles the full engine configuration from config file,
// environment, and loaded secrets.
func engineConfig() types.EngineConfig {
	viper.SetDefault("retrieval.timeout", "30s")
	viper.SetDefault("retrieval.user_agent", "blatt/"+version)
	viper.SetDefault("retrieval.max_seed_results", 20)
	viper.SetDefault("retrieval.citation_limit", 20)
	viper.SetDefault("retrieval.reference_limit", 20)
	viper.SetDefault("retrieval.concurrency", 5)
	viper.SetDefault("retrieval.enable_openalex", true)
	viper.SetDefault("retrieval.enable_arxiv", true)
	viper.SetDefault("scoring.timeout", "60s")
	viper.SetDefault("scoring.model", "claude-3-5-haiku-20241022")
	viper.SetDefault("scoring.concurrency", 4)
	viper.SetDefault("scoring.cache_size", 1024)
	viper.SetDefault("expansion.max_rounds", 3)
	viper.SetDefault("expansion.priority_threshold", 4)
	viper.SetDefault("expansion.max_discovered", 200)
	viper.SetDefault("expansion.max_relationships", 50)
	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.base_delay", "1s")
	viper.SetDefault("retry.max_delay", "30s")
	viper.SetDefault("retry.jitter", true)
	viper.SetDefault("store.data_dir", "data")

	cfg := types.EngineConfig{
		Retrieval: types.RetrievalConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("retrieval.timeout"),
				UserAgent: viper.GetString("retrieval.user_agent"),
			},
			MaxSeedResults:        viper.GetInt("retrieval.max_seed_results"),
			CitationLimit:         viper.GetInt("retrieval.citation_limit"),
			ReferenceLimit:        viper.GetInt("retrieval.reference_limit"),
			MinCitationCount:      viper.GetInt("retrieval.min_citation_count"),
			YearFrom:              viper.GetInt("retrieval.year_from"),
			RequestsPerSecond:     viper.GetFloat64("retrieval.requests_per_second"),
			Concurrency:           viper.GetInt("retrieval.concurrency"),
			EnableOpenAlex:        viper.GetBool("retrieval.enable_openalex"),
			EnableArxiv:           viper.GetBool("retrieval.enable_arxiv"),
			SemanticScholarAPIKey: secretDefault("semantic-scholar-api-key", viper.GetString("retrieval.semantic_scholar_api_key")),
			OpenAlexEmail:         secretDefault("openalex-email", viper.GetString("retrieval.openalex_email")),
		},
		Scoring: types.ScoringConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("scoring.timeout"),
				UserAgent: viper.GetString("retrieval.user_agent"),
			},
			Model:       viper.GetString("scoring.model"),
			APIKey:      secretDefault("anthropic-api-key", viper.GetString("scoring.api_key")),
			Concurrency: viper.GetInt("scoring.concurrency"),
			CacheSize:   viper.GetInt("scoring.cache_size"),
		},
		Expansion: types.ExpansionConfig{
			MaxRounds:         viper.GetInt("expansion.max_rounds"),
			PriorityThreshold: viper.GetInt("expansion.priority_threshold"),
			CallBudget:        viper.GetInt("expansion.call_budget"),
			MaxDiscovered:     viper.GetInt("expansion.max_discovered"),
			MaxRelationships:  viper.GetInt("expansion.max_relationships"),
		},
		Retry: types.RetryConfig{
			MaxAttempts: viper.GetInt("retry.max_attempts"),
			BaseDelay:   viper.GetDuration("retry.base_delay"),
			MaxDelay:    viper.GetDuration("retry.max_delay"),
			Jitter:      viper.GetBool("retry.jitter"),
		},
		Store: types.StoreConfig{
			DataDir: viper.GetString("store.data_dir"),
		},
	}
	if cfg.Retrieval.Timeout <= 0 {
		cfg.Retrieval.Timeout = 30 * time.Second
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
