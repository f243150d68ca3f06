// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Annh770/Blatt/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved expansion sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := engineConfig()
		if cmd.Flags().Changed("data-dir") {
			cfg.Store.DataDir, _ = cmd.Flags().GetString("data-dir")
		}

		db, err := store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close()

		infos, err := db.ListSessions(context.Background())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No saved sessions.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%-38s  %-30s  %-20s  %-7s  %s\n",
			"Session", "Keywords", "Created", "Papers", "Status")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 108))
		for _, info := range infos {
			status := "complete"
			if info.Partial {
				status = "partial"
			}
			keywords := info.Keywords
			if len(keywords) > 30 {
				keywords = keywords[:27] + "..."
			}
			fmt.Fprintf(os.Stdout, "%-38s  %-30s  %-20s  %-7d  %s\n",
				info.ID, keywords, info.CreatedAt.Format("2006-01-02 15:04:05"),
				info.PaperCount, status)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().String("data-dir", "data", "directory containing the session database")

	rootCmd.AddCommand(sessionsCmd)
}
