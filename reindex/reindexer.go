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


package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/orchestrator"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/vectorindex"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of documents loaded per batch
	BatchSize int

	// Collection receives the chunks of documents that have none recorded
	Collection string

	// MaxRetries is the maximum number of retries of a transient index failure
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:  DefaultBatchSize,
		Collection: orchestrator.DefaultCollection,
		MaxRetries: core.DefaultMaxRetries,
		RetryDelay: time.Second,
	}
}

// Stats summarizes a finished run.
type Stats struct {
	Documents int
	Chunks    int
	Elapsed   time.Duration
}

// Reindexer re-delivers every completed document to a sink.
type Reindexer struct {
	store    storage.DocumentStore
	sink     vectorindex.Sink
	config   *Config
	iterator *DocumentIterator
	logger   *slog.Logger
}

// New creates a reindexer. A nil config selects DefaultConfig.
func New(store storage.DocumentStore, sink vectorindex.Sink, config *Config, logger *slog.Logger) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Collection == "" {
		config.Collection = orchestrator.DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reindexer{
		store:    store,
		sink:     sink,
		config:   config,
		iterator: NewDocumentIterator(store, config.BatchSize),
		logger:   logger.With("component", "reindexer"),
	}
}

// Total returns the number of documents a run would visit.
func (r *Reindexer) Total(ctx context.Context) (int, error) {
	return r.iterator.Count(ctx)
}

// Run delivers the chunks of every completed document. onProgress, when
// not nil, receives the number of documents done after each batch.
func (r *Reindexer) Run(ctx context.Context, onProgress func(done int)) (Stats, error) {
	start := time.Now()
	var stats Stats

	err := r.iterator.ForEach(ctx, func(docs []*core.Document) error {
		n, err := r.processBatch(ctx, docs)
		stats.Chunks += n
		if err != nil {
			return err
		}

		stats.Documents += len(docs)
		if onProgress != nil {
			onProgress(stats.Documents)
		}
		return nil
	})
	stats.Elapsed = time.Since(start)
	if err != nil {
		return stats, err
	}

	r.logger.Info("reindex complete", "documents", stats.Documents, "chunks", stats.Chunks, "elapsed", stats.Elapsed)
	return stats, nil
}

// processBatch loads the chunks of docs and upserts them grouped by
// collection. Returns the number of chunks delivered.
func (r *Reindexer) processBatch(ctx context.Context, docs []*core.Document) (int, error) {
	byCollection := make(map[string][]vectorindex.Entry)
	var order []string
	for _, doc := range docs {
		chunks, err := r.store.LoadChunks(ctx, doc.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to load chunks of %s: %w", doc.ID, err)
		}
		if len(chunks) == 0 {
			continue
		}
		collection := doc.Collection
		if collection == "" {
			collection = r.config.Collection
		}
		if _, ok := byCollection[collection]; !ok {
			order = append(order, collection)
		}
		byCollection[collection] = append(byCollection[collection], vectorindex.EntriesFromChunks(chunks)...)
	}

	delivered := 0
	for _, collection := range order {
		entries := byCollection[collection]
		err := orchestrator.RetryWithBackoff(ctx, func() error {
			return r.sink.Upsert(ctx, collection, entries)
		}, r.config.MaxRetries, r.config.RetryDelay, func(retry int, cause error) {
			r.logger.Warn("index upsert failed, retrying", "collection", collection, "retry", retry, "err", cause)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return delivered, err
			}
			return delivered, fmt.Errorf("failed to index %d chunks in %s: %w", len(entries), collection, err)
		}
		delivered += len(entries)
	}
	return delivered, nil
}
