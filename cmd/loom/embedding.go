package main

import (
	"loom/internal/embedding"
	"loom/internal/store"
)

// buildEmbeddingEngine constructs the configured embedding engine, if
// any provider is configured and reachable, for semantic-search commands.
func buildEmbeddingEngine(cfg *store.ProjectConfig) (embedding.EmbeddingEngine, error) {
	return embedding.NewEngine(cfg.EmbeddingConfig())
}
