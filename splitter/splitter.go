package splitter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/core"
	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultSimilarityThreshold is the cosine similarity above which adjacent
// paragraphs are merged by the semantic strategy.
const DefaultSimilarityThreshold = 0.75

// Splitter splits text into an ordered sequence of chunks.
// Implementations must be safe for concurrent use.
type Splitter interface {
	// Split returns the chunks of text in document order.
	// Empty input yields an empty result, never a single empty chunk.
	Split(ctx context.Context, text string) ([]string, error)
}

// Option configures splitter construction.
type Option func(*options)

type options struct {
	length    LengthFunc
	threshold float64
	embedder  ai.Embedder
	logger    *slog.Logger
}

func defaultOptions() *options {
	return &options{
		length:    RuneLength,
		threshold: DefaultSimilarityThreshold,
		logger:    slog.Default(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLengthFunc sets the function used to measure chunk length.
// Default is RuneLength.
func WithLengthFunc(fn LengthFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.length = fn
		}
	}
}

// WithSimilarityThreshold sets the semantic merge threshold.
// Default is DefaultSimilarityThreshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

// WithEmbedder injects the embedder used by the semantic strategy.
// Without one the semantic strategy falls back to recursive splitting.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(o *options) {
		o.embedder = embedder
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New constructs the splitter selected by req.Strategy.
// The request is validated first; StrategyAdaptive must be resolved with Adapt
// before calling New.
func New(req core.ChunkingRequest, opts ...Option) (Splitter, error) {
	if err := core.ValidateChunkingRequest(req); err != nil {
		return nil, err
	}

	switch req.Strategy {
	case core.StrategyRecursive:
		return NewRecursive(req.ChunkSize, req.ChunkOverlap, nil, opts...)
	case core.StrategyFixedSize:
		return NewFixedSize(req.ChunkSize, req.ChunkOverlap, req.Separator, opts...)
	case core.StrategySemantic:
		return NewSemantic(req.ChunkSize, req.ChunkOverlap, opts...)
	case core.StrategyCustomSeparator:
		return NewCustomSeparator(req.ChunkSize, req.ChunkOverlap, req.CustomSeparators, req.KeepSeparator, opts...)
	case core.StrategyMarkup:
		return NewMarkup(req.ChunkSize, req.ChunkOverlap, opts...)
	default:
		return nil, fmt.Errorf("%w: %w: %q must be resolved before construction",
			core.ErrConfig, core.ErrUnknownStrategy, req.Strategy)
	}
}

func validateSizes(size, overlap int) error {
	return core.ValidateChunkingRequest(core.ChunkingRequest{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Strategy:     core.StrategyRecursive,
	})
}

// textSplitterAdapter exposes a langchaingo TextSplitter as a Splitter.
type textSplitterAdapter struct {
	ts textsplitter.TextSplitter
}

// FromTextSplitter adapts a langchaingo text splitter.
func FromTextSplitter(ts textsplitter.TextSplitter) Splitter {
	return &textSplitterAdapter{ts: ts}
}

func (a *textSplitterAdapter) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	chunks, err := a.ts.SplitText(text)
	if err != nil {
		return nil, err
	}
	return dropEmpty(chunks), nil
}
