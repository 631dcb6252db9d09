// Package mock provides test double implementations of AI service interfaces.
//
// The mocks let tests exercise the semantic splitter and the vector index
// sink without an embedding service, with controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Default deterministic vectors
//	embedder := mock.NewMockEmbedder()
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("service down")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// The default MockEmbedder returns vectors derived from an FNV hash of the
// text, so equal inputs always produce equal vectors.
package mock
