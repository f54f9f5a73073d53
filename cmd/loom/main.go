// Package main implements the loom CLI - thin command verbs over the
// internal/store code graph engine. Command implementations are split
// across multiple cmd_*.go files by area.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loom/internal/logging"
	"loom/internal/store"
)

var (
	verbose     bool
	projectPath string
	noVector    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom - a code-knowledge graph for AI coding agents",
	Long: `Loom ingests a codebase into an entity/relationship graph, tracks
runtime traces, attempted fixes, and TODOs against it, and answers
structural questions (usages, impact, central entities, semantic search)
from the resulting store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		root, err := store.ResolveProjectRoot(projectPath)
		if err != nil {
			return fmt.Errorf("resolve project root: %w", err)
		}
		projectPath = root

		if err := logging.Initialize(root); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "", "Project root (default: active project or upward search)")
	rootCmd.PersistentFlags().BoolVar(&noVector, "no-vector", false, "Don't require the vector extension even if configured")

	rootCmd.AddCommand(
		ingestCmd,
		analyzeCmd,
		queryCmd,
		usagesCmd,
		impactCmd,
		suggestTestsCmd,
		testCmd,
		traceCmd,
		failureLogCmd,
		attemptedFixesCmd,
		todoCmd,
		validateCmd,
		issuesCmd,
	)
}

// openStore opens the store for the resolved project root, honoring the
// project's own .loom/config.yaml for embedding and vector settings.
func openStore() (*store.Store, error) {
	cfg, err := store.LoadProjectConfig(projectPath)
	if err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}

	opts := store.Options{RequireVector: cfg.RequireVector && !noVector}
	if engine, err := buildEmbeddingEngine(cfg); err == nil {
		opts.EmbeddingEngine = engine
	} else {
		logging.StoreDebug("embedding engine unavailable: %v", err)
	}

	s, err := store.OpenStore(store.StorePath(projectPath), opts)
	if err != nil {
		return nil, err
	}
	if err := store.SetActiveProject(projectPath); err != nil {
		logging.StoreDebug("failed to record active project: %v", err)
	}
	return s, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
