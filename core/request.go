package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// Strategy selects the splitting algorithm for a chunking run.
type Strategy string

const (
	// StrategyRecursive tries separators in priority order and recurses into oversized pieces.
	StrategyRecursive Strategy = "recursive"
	// StrategyFixedSize splits on a single separator and merges directly.
	StrategyFixedSize Strategy = "fixed_size"
	// StrategySemantic merges adjacent paragraphs while their embeddings stay similar.
	StrategySemantic Strategy = "semantic"
	// StrategyCustomSeparator splits on caller supplied separators.
	StrategyCustomSeparator Strategy = "custom_separator"
	// StrategyMarkup uses the heading-aware splitter for markup formats.
	StrategyMarkup Strategy = "markup"
	// StrategyAdaptive picks one of the above from the file type and content.
	StrategyAdaptive Strategy = "adaptive"
)

// Strategies lists every accepted strategy name.
var Strategies = []Strategy{
	StrategyRecursive,
	StrategyFixedSize,
	StrategySemantic,
	StrategyCustomSeparator,
	StrategyMarkup,
	StrategyAdaptive,
}

// ParseStrategy converts a strategy name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %q", ErrConfig, ErrUnknownStrategy, name)
}

// DefaultSeparator is the fixed-size separator used when none is configured.
const DefaultSeparator = " "

// ChunkingRequest configures one chunking run.
// Use NewChunkingRequest to obtain a validated value.
type ChunkingRequest struct {
	ChunkSize        int
	ChunkOverlap     int
	Strategy         Strategy
	Separator        string   // Fixed-size separator
	CustomSeparators []string // Required for StrategyCustomSeparator
	KeepSeparator    bool     // Re-attach custom separators to the following piece
}

// RequestOption configures optional ChunkingRequest fields.
type RequestOption func(*ChunkingRequest)

// WithSeparator sets the fixed-size separator.
func WithSeparator(sep string) RequestOption {
	return func(r *ChunkingRequest) {
		r.Separator = sep
	}
}

// WithCustomSeparators sets the ordered custom separator list.
func WithCustomSeparators(seps ...string) RequestOption {
	return func(r *ChunkingRequest) {
		r.CustomSeparators = append([]string(nil), seps...)
	}
}

// WithKeepSeparator keeps custom separators attached to the following piece.
func WithKeepSeparator(keep bool) RequestOption {
	return func(r *ChunkingRequest) {
		r.KeepSeparator = keep
	}
}

// NewChunkingRequest builds and validates a ChunkingRequest.
// Invalid combinations fail here, before any text is touched.
func NewChunkingRequest(size, overlap int, strategy Strategy, opts ...RequestOption) (ChunkingRequest, error) {
	req := ChunkingRequest{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Strategy:     strategy,
	}
	for _, opt := range opts {
		opt(&req)
	}
	if req.Strategy == StrategyFixedSize && req.Separator == "" {
		req.Separator = DefaultSeparator
	}
	if err := ValidateChunkingRequest(req); err != nil {
		return ChunkingRequest{}, err
	}
	return req, nil
}

// CacheKey derives the chunk cache key for source content with the given fingerprint.
// Every component of the request participates, so any change produces a new key.
func (r ChunkingRequest) CacheKey(fingerprint string) string {
	var b strings.Builder
	b.WriteString(fingerprint)
	b.WriteByte(0)
	b.WriteString(string(r.Strategy))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(r.ChunkSize))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(r.ChunkOverlap))
	b.WriteByte(0)
	b.WriteString(r.Separator)
	b.WriteByte(0)
	b.WriteString(strconv.FormatBool(r.KeepSeparator))
	for _, sep := range r.CustomSeparators {
		b.WriteByte(0)
		b.WriteString(strconv.Quote(sep))
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:])
}
