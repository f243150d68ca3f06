// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Annh770/Blatt/internal/export"
	"github.com/Annh770/Blatt/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a saved session's scored citation graph",
	Long: `Export loads a saved session and prints its scored view: papers at or
above the minimum priority, the citation edges between them, and any
classified relationships.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		minPriority, _ := cmd.Flags().GetInt("min-priority")
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}
		if asJSON && asYAML {
			return fmt.Errorf("--json and --yaml are mutually exclusive")
		}

		cfg := engineConfig()
		if cmd.Flags().Changed("data-dir") {
			cfg.Store.DataDir, _ = cmd.Flags().GetString("data-dir")
		}

		db, err := store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close()

		snap, err := db.LoadSession(context.Background(), sessionID)
		if err != nil {
			return err
		}

		view := export.Assemble(snap, minPriority)
		switch {
		case asJSON:
			return export.FormatJSON(view, os.Stdout)
		case asYAML:
			return export.FormatYAML(view, os.Stdout)
		default:
			export.FormatTable(view, os.Stdout)
			return nil
		}
	},
}

func init() {
	exportCmd.Flags().String("session", "", "session ID to export (required)")
	exportCmd.Flags().Int("min-priority", 1, "minimum priority (1-5) to include")
	exportCmd.Flags().String("data-dir", "data", "directory containing the session database")
	exportCmd.Flags().Bool("json", false, "output as JSON")
	exportCmd.Flags().Bool("yaml", false, "output as YAML")

	rootCmd.AddCommand(exportCmd)
}
