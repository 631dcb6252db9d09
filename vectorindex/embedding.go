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


package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/core"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of entries embedded per request.
const DefaultBatchSize = 32

// Record is a stored entry with its vector.
type Record struct {
	Entry
	Vector []float32
}

// EmbeddingSink embeds entries and keeps them in memory per collection.
// Upserts are paced by a token bucket so a large batch cannot flood the
// embedding service.
type EmbeddingSink struct {
	embedder    ai.Embedder
	limiter     *rate.Limiter
	batchSize   int
	mu          sync.RWMutex
	collections map[string]map[core.ID]Record
	logger      *slog.Logger
}

var _ Sink = (*EmbeddingSink)(nil)

// Option configures an EmbeddingSink.
type Option func(*EmbeddingSink)

// WithRateLimit allows r embedding requests per second with the given burst.
// The default is unlimited.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *EmbeddingSink) {
		s.limiter = rate.NewLimiter(r, max(burst, 1))
	}
}

// WithBatchSize sets the number of entries embedded per request.
func WithBatchSize(n int) Option {
	return func(s *EmbeddingSink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *EmbeddingSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEmbeddingSink creates a sink embedding with embedder.
func NewEmbeddingSink(embedder ai.Embedder, opts ...Option) *EmbeddingSink {
	s := &EmbeddingSink{
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		batchSize:   DefaultBatchSize,
		collections: make(map[string]map[core.ID]Record),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "vector-sink")
	return s
}

// Upsert embeds entries and stores them under collection. Vectors are
// normalized to unit length. Nothing is stored unless every batch succeeds.
func (s *EmbeddingSink) Upsert(ctx context.Context, collection string, entries []Entry) error {
	if collection == "" {
		return fmt.Errorf("%w: collection is required", core.ErrConfig)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]Record, 0, len(entries))
	for start := 0; start < len(entries); start += s.batchSize {
		batch := entries[start:min(start+s.batchSize, len(entries))]
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.Text
		}
		vectors, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			if errors.Is(err, core.ErrTransientIO) || errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("%w: embedding entries: %w", core.ErrTransientIO, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		}
		for i, e := range batch {
			records = append(records, Record{Entry: e, Vector: ai.NormalizeVector(vectors[i])})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[core.ID]Record, len(records))
		s.collections[collection] = coll
	}
	for _, r := range records {
		coll[r.ID] = r
	}
	s.logger.Debug("upserted entries", "collection", collection, "count", len(records))
	return nil
}

// Delete removes the records of documentID from collection.
func (s *EmbeddingSink) Delete(ctx context.Context, collection, documentID string) (int, error) {
	if collection == "" {
		return 0, fmt.Errorf("%w: collection is required", core.ErrConfig)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, r := range s.collections[collection] {
		if r.DocumentID == documentID {
			delete(s.collections[collection], id)
			n++
		}
	}
	s.logger.Debug("deleted entries", "collection", collection, "documentID", documentID, "count", n)
	return n, nil
}

// Get returns the stored record for id.
func (s *EmbeddingSink) Get(collection string, id core.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.collections[collection][id]
	return r, ok
}

// Count returns the number of records in collection.
func (s *EmbeddingSink) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
