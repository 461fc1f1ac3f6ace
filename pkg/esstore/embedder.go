package esstore

import "context"

// EmbeddingFunc maps a batch of texts to a batch of fixed-length vectors.
// The returned slice must be positionally aligned with the input and every
// vector must have the dimensionality the store was configured with.
type EmbeddingFunc func(ctx context.Context, texts []string) ([][]float32, error)
