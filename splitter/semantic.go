package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/core"
)

const paragraphSeparator = "\n\n"

// Semantic groups adjacent paragraphs into the same chunk while the cosine
// similarity between the running chunk embedding and the next paragraph stays
// above a threshold and the merged chunk still fits. Groups that are still too
// long are re-split recursively.
//
// Without an embedder, or with fewer than two paragraphs, Semantic behaves
// exactly like Recursive.
type Semantic struct {
	chunkSize    int
	chunkOverlap int
	threshold    float64
	embedder     ai.Embedder
	fallback     *Recursive
	length       LengthFunc
	logger       *slog.Logger
}

var _ Splitter = (*Semantic)(nil)

// NewSemantic creates a semantic splitter. The embedder is supplied with WithEmbedder.
func NewSemantic(chunkSize, chunkOverlap int, opts ...Option) (*Semantic, error) {
	fallback, err := NewRecursive(chunkSize, chunkOverlap, nil, opts...)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &Semantic{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		threshold:    o.threshold,
		embedder:     o.embedder,
		fallback:     fallback,
		length:       o.length,
		logger:       o.logger.With("splitter", "semantic"),
	}, nil
}

// Split implements Splitter.
func (s *Semantic) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}
	if s.embedder == nil || len(paragraphs) < 2 {
		s.logger.Debug("using recursive fallback", "paragraphs", len(paragraphs), "embedder", s.embedder != nil)
		return s.fallback.Split(ctx, text)
	}

	vectors, err := s.embedder.EmbedTexts(ctx, paragraphs)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding paragraphs: %w", core.ErrTransientIO, err)
	}
	if len(vectors) != len(paragraphs) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(paragraphs), len(vectors))
	}

	var groups []string
	current := []string{paragraphs[0]}
	members := [][]float32{vectors[0]}
	centroid := vectors[0]
	currentLen := s.length(paragraphs[0])
	sepLen := s.length(paragraphSeparator)

	for i := 1; i < len(paragraphs); i++ {
		mergedLen := currentLen + sepLen + s.length(paragraphs[i])
		similarity := ai.CosineSimilarity(centroid, vectors[i])

		if similarity > s.threshold && mergedLen <= s.chunkSize {
			current = append(current, paragraphs[i])
			members = append(members, vectors[i])
			centroid = ai.MeanVector(members...)
			currentLen = mergedLen
			continue
		}

		groups = append(groups, strings.Join(current, paragraphSeparator))
		current = []string{paragraphs[i]}
		members = [][]float32{vectors[i]}
		centroid = vectors[i]
		currentLen = s.length(paragraphs[i])
	}
	groups = append(groups, strings.Join(current, paragraphSeparator))

	var chunks []string
	for _, group := range groups {
		if s.length(group) <= s.chunkSize {
			chunks = append(chunks, group)
			continue
		}
		sub, err := s.fallback.Split(ctx, group)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sub...)
	}
	return chunks, nil
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, paragraphSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
