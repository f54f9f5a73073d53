package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/parser"
	"loom/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Parse source files and populate the entity graph",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		reg := parser.NewRegistry()
		reg.Register(parser.NewPythonParser())

		stats, err := s.IngestPaths(context.Background(), reg, args, store.IngestOptions{})
		if err != nil {
			return err
		}

		fmt.Printf("scanned %d files, ingested %d, skipped %d\n", stats.FilesScanned, stats.FilesIngested, stats.FilesSkipped)
		fmt.Printf("entities added: %d\n", stats.EntitiesAdded)
		fmt.Printf("imports: %d added, %d skipped, %d unresolved\n",
			stats.ImportsAnalyzed.RelationshipsAdded, stats.ImportsAnalyzed.RelationshipsSkipped, stats.ImportsAnalyzed.UnresolvedTargets)
		fmt.Printf("calls: %d added, %d skipped, %d unresolved\n",
			stats.CallsAnalyzed.RelationshipsAdded, stats.CallsAnalyzed.RelationshipsSkipped, stats.CallsAnalyzed.UnresolvedTargets)
		for _, e := range stats.Errors {
			fmt.Println("  error:", e)
		}
		return nil
	},
}
