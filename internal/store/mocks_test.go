package store

import (
	"context"
	"fmt"
)

// MockEmbeddingEngine implements embedding.EmbeddingEngine for testing.
type MockEmbeddingEngine struct {
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsFunc func() int
	NameFunc       func() string
}

func (m *MockEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbeddingEngine) Dimensions() int {
	if m.DimensionsFunc != nil {
		return m.DimensionsFunc()
	}
	return embeddingDimensions
}

func (m *MockEmbeddingEngine) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-embedding-engine"
}

// MockErrorEmbeddingEngine always fails, for exercising error paths.
type MockErrorEmbeddingEngine struct{}

func (m *MockErrorEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("mock embedding error")
}

func (m *MockErrorEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("mock embedding error")
}

func (m *MockErrorEmbeddingEngine) Dimensions() int { return embeddingDimensions }

func (m *MockErrorEmbeddingEngine) Name() string { return "mock-error-engine" }

// unitVector returns a one-hot float32 vector of the store's configured
// embedding dimensionality, with a 1.0 at index i - enough to make
// semantic distance ordering deterministic in tests without a real model.
func unitVector(i int) []float32 {
	v := make([]float32, embeddingDimensions)
	v[i] = 1.0
	return v
}
