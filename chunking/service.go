// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package chunking

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"unicode/utf8"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/extract"
	"github.com/poiesic/docket/metrics"
	"github.com/poiesic/docket/splitter"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/tokenizer"
)

// Chunk metadata keys added by the Service.
const (
	MetaDocumentID = "document_id"
	MetaStrategy   = "strategy"
	MetaOversized  = "oversized"
)

// sampleBytes is how much extracted text the adaptive strategy inspects.
const sampleBytes = 4096

// ContentExtractor reads text from a source file.
type ContentExtractor interface {
	Extract(ctx context.Context, path, declaredMediaType string) (extract.Result, error)
}

// TokenCounter counts tokens. It must never fail.
type TokenCounter interface {
	Count(text string) int
}

// SplitHook is called by ChunkDocument once the source text is available
// and before it is split. A non-nil error aborts the call.
type SplitHook func(ctx context.Context) error

// Service produces chunk records for documents.
// It is safe for concurrent use.
type Service struct {
	extractor ContentExtractor
	cache     storage.ChunkCache
	counter   TokenCounter
	embedder  ai.Embedder
	threshold float64
	overrides map[string]core.Strategy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEmbedder sets the embedder used by the semantic strategy.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(s *Service) {
		s.embedder = embedder
	}
}

// WithSimilarityThreshold sets the semantic merge threshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// WithOverride forces strategy for every source of mediaType, whatever the
// request asks for. An empty strategy removes the override.
func WithOverride(mediaType string, strategy core.Strategy) Option {
	return func(s *Service) {
		if strategy == "" {
			delete(s.overrides, mediaType)
			return
		}
		s.overrides[mediaType] = strategy
	}
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// DefaultOverrides routes markup formats to the heading-aware splitter.
func DefaultOverrides() map[string]core.Strategy {
	return map[string]core.Strategy{
		extract.MediaMarkdown: core.StrategyMarkup,
		extract.MediaHTML:     core.StrategyMarkup,
	}
}

// New creates a Service.
func New(extractor ContentExtractor, cache storage.ChunkCache, counter TokenCounter, opts ...Option) *Service {
	s := &Service{
		extractor: extractor,
		cache:     cache,
		counter:   counter,
		threshold: splitter.DefaultSimilarityThreshold,
		overrides: DefaultOverrides(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chunking")
	return s
}

// EffectiveRequest applies the override table to req for a source of mediaType.
func (s *Service) EffectiveRequest(mediaType string, req core.ChunkingRequest) core.ChunkingRequest {
	if strategy, ok := s.overrides[mediaType]; ok && strategy != req.Strategy {
		req.Strategy = strategy
		req.CustomSeparators = nil
		req.KeepSeparator = false
	}
	return req
}

// ChunkDocument returns the chunks of doc under req.
//
// Cached chunks are returned re-stamped with doc's identity. On a miss the
// source is extracted and split, and the result is written to the cache.
// Cache failures are logged and never fail the call. onSplit hooks run
// between extraction and splitting, and right after a cache hit.
func (s *Service) ChunkDocument(ctx context.Context, doc *core.Document, req core.ChunkingRequest, onSplit ...SplitHook) ([]core.Chunk, error) {
	if err := core.ValidateChunkingRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fingerprint, err := fingerprintFile(doc.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrExtraction, doc.SourcePath, err)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", core.ErrTransientIO, doc.SourcePath, err)
	}

	mediaType := extract.ResolveMediaType(doc.SourcePath, doc.MediaType)
	effective := s.EffectiveRequest(mediaType, req)
	key := effective.CacheKey(fingerprint + ":" + mediaType)
	logger := s.logger.With("documentID", doc.ID, "strategy", effective.Strategy)

	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("chunk cache lookup failed, chunking from source", "err", err)
		hit = false
	}
	s.metrics.CacheLookup(hit)
	if hit {
		logger.Debug("chunk cache hit", "chunks", len(cached))
		if err := runHooks(ctx, onSplit); err != nil {
			return nil, err
		}
		return restamp(cached, doc), nil
	}

	result, err := s.extractor.Extract(ctx, doc.SourcePath, doc.MediaType)
	if err != nil {
		return nil, err
	}

	if effective.Strategy == core.StrategyAdaptive {
		effective = splitter.Adapt(doc.SourcePath, effective, sample(result.Text))
		logger.Debug("adaptive strategy resolved", "resolved", effective.Strategy,
			"chunkSize", effective.ChunkSize, "chunkOverlap", effective.ChunkOverlap)
	}

	if err := runHooks(ctx, onSplit); err != nil {
		return nil, err
	}

	sp, err := splitter.New(effective,
		splitter.WithEmbedder(s.embedder),
		splitter.WithSimilarityThreshold(s.threshold),
		splitter.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	pieces, err := sp.Split(ctx, result.Text)
	if err != nil {
		return nil, err
	}

	chunks := make([]core.Chunk, len(pieces))
	for i, piece := range pieces {
		meta := maps.Clone(result.Metadata)
		if meta == nil {
			meta = make(map[string]any, 4)
		}
		meta[MetaStrategy] = string(effective.Strategy)
		if utf8.RuneCountInString(piece) > effective.ChunkSize {
			meta[MetaOversized] = true
		}
		chunks[i] = core.Chunk{
			Content:       piece,
			SequenceIndex: i,
			WordCount:     tokenizer.WordCount(piece),
			TokenCount:    s.counter.Count(piece),
			Metadata:      core.NormalizeMetadata(meta),
		}
	}

	if err := s.cache.Put(ctx, key, doc.ID, chunks); err != nil {
		logger.Warn("chunk cache write failed", "err", err)
	}
	logger.Debug("chunked document", "chunks", len(chunks), "mediaType", mediaType)
	return restamp(chunks, doc), nil
}

// Invalidate drops the cache entries written for documentID.
func (s *Service) Invalidate(ctx context.Context, documentID string) (int, error) {
	n, err := s.cache.InvalidateDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalidating cache for %s: %w", core.ErrTransientIO, documentID, err)
	}
	return n, nil
}

// InvalidateAll flushes the chunk cache.
func (s *Service) InvalidateAll(ctx context.Context) (int, error) {
	n, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: flushing cache: %w", core.ErrTransientIO, err)
	}
	return n, nil
}

func runHooks(ctx context.Context, hooks []SplitHook) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

// restamp copies chunks onto doc's identity.
func restamp(chunks []core.Chunk, doc *core.Document) []core.Chunk {
	out := make([]core.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = doc.ID
		c.Metadata = maps.Clone(c.Metadata)
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 2)
		}
		c.Metadata[MetaDocumentID] = doc.ID
		c.Metadata[extract.MetaSource] = doc.SourcePath
		out[i] = c
	}
	return out
}

// fingerprintFile streams path through the same digest as core.Fingerprint.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New(32, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sample(text string) string {
	if len(text) <= sampleBytes {
		return text
	}
	cut := sampleBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
