package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search entities by name, code, or intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		semantic, _ := cmd.Flags().GetBool("semantic")
		if semantic {
			matches, err := s.SemanticSearch(context.Background(), args[0], 10)
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Printf("%-30s %-10s score=%.3f\n", m.Entity.Name, m.Entity.Kind, m.Score)
			}
			return nil
		}

		entities, err := s.Query(args[0], 20)
		if err != nil {
			return err
		}
		for _, e := range entities {
			fmt.Printf("%-30s %-10s %s\n", e.Name, e.Kind, firstLine(e.Intent))
		}
		fmt.Printf("\n%d result(s)\n", len(entities))
		return nil
	},
}

func init() {
	queryCmd.Flags().Bool("semantic", false, "Use embedding-based semantic search instead of substring match")
}

var usagesCmd = &cobra.Command{
	Use:   "usages <entity-name>",
	Short: "Find everything that references an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		usages, err := s.FindUsages(args[0])
		if err != nil {
			return err
		}
		for _, u := range usages {
			fmt.Printf("%-30s %-10s via %s\n", u.Entity.Name, u.Entity.Kind, u.Relation)
		}
		fmt.Printf("\n%d usage(s)\n", len(usages))
		return nil
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact <entity-id>",
	Short: "Show direct and indirect callers and the risk of changing an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entity id %q: %w", args[0], err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		analysis, err := s.ImpactAnalysis(id)
		if err != nil {
			return err
		}
		fmt.Printf("risk score: %d\n", analysis.RiskScore)
		fmt.Printf("direct callers: %d\n", len(analysis.DirectCallers))
		for _, c := range analysis.DirectCallers {
			fmt.Printf("  %-30s %s\n", c.Name, c.Kind)
		}
		fmt.Printf("indirect callers: %d\n", len(analysis.IndirectCallers))
		for _, c := range analysis.IndirectCallers {
			fmt.Printf("  %-30s %s\n", c.Name, c.Kind)
		}
		fmt.Printf("affected methods: %d\n", len(analysis.AffectedMethods))
		return nil
	},
}

var suggestTestsCmd = &cobra.Command{
	Use:   "suggest-tests <entity-name>",
	Short: "Suggest tests that likely cover an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		tests, err := s.SuggestTests(args[0])
		if err != nil {
			return err
		}
		for _, t := range tests {
			fmt.Printf("%-30s score=%.2f (%s)\n", t.Entity.Name, t.Score, t.Reason)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Print an architecture summary of the stored graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		summary, err := s.GetArchitectureSummary()
		if err != nil {
			return err
		}
		fmt.Printf("entities: %d (%v)\n", summary.TotalEntities, summary.EntitiesByKind)
		fmt.Printf("relationships: %d (%v)\n", summary.TotalRelationships, summary.RelationsByKind)
		fmt.Printf("approx code size: %s\n", summary.ApproxCodeSize)
		fmt.Printf("orphaned entities: %d\n", summary.OrphanCount)
		fmt.Println("most central entities:")
		for _, c := range summary.CentralEntities {
			fmt.Printf("  %-30s degree=%d\n", c.Entity.Name, c.Degree)
		}
		return nil
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Report orphaned entities and methods nothing calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		orphans, err := s.GetOrphans()
		if err != nil {
			return err
		}
		uncalled, err := s.GetUncalledMethods()
		if err != nil {
			return err
		}

		fmt.Printf("orphaned entities (%d):\n", len(orphans))
		for _, e := range orphans {
			fmt.Printf("  %-30s %s\n", e.Name, e.Kind)
		}
		fmt.Printf("\nuncalled methods (%d):\n", len(uncalled))
		for _, e := range uncalled {
			fmt.Printf("  %s\n", e.Name)
		}
		return nil
	},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
