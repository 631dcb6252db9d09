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


// Package docket wires the ingestion pipeline together: storage, the task
// ledger, the chunking service, the vector index sink and the job
// orchestrator on an in-process worker queue.
package docket

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/ai/openai"
	"github.com/poiesic/docket/chunking"
	"github.com/poiesic/docket/config"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/extract"
	"github.com/poiesic/docket/metrics"
	"github.com/poiesic/docket/orchestrator"
	"github.com/poiesic/docket/queue"
	"github.com/poiesic/docket/reindex"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/storage/badger"
	"github.com/poiesic/docket/storage/sqlite"
	"github.com/poiesic/docket/tasks"
	"github.com/poiesic/docket/tokenizer"
	"github.com/poiesic/docket/vectorindex"
	"golang.org/x/time/rate"
)

type Database struct {
	cfg      *config.Config
	backend  *badger.Backend
	cache    *badger.ChunkCache
	store    *sqlite.Store
	provider ai.AIProvider
	queue    *queue.Queue
	tasks    *tasks.Manager
	chunker  *chunking.Service
	sink     vectorindex.Sink
	orch     *orchestrator.Orchestrator
	sweeper  *tasks.Sweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logger   *slog.Logger
	embedder ai.Embedder
	sink     vectorindex.Sink
	inMemory bool
	loader   tokenizer.Loader
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// WithEmbedder uses embedder instead of the configured embedding service.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithSink delivers finished chunks to sink instead of the embedding sink.
func WithSink(sink vectorindex.Sink) DatabaseOption {
	return func(o *databaseOptions) {
		o.sink = sink
	}
}

// WithInMemory keeps the cache and task ledger in memory.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithTokenizerLoader replaces the BPE loader used by the token counter.
// A nil loader selects the heuristic estimate.
func WithTokenizerLoader(loader tokenizer.Loader) DatabaseOption {
	return func(o *databaseOptions) {
		o.loader = loader
	}
}

// NewDatabase opens the stores described by cfg and builds the pipeline.
func NewDatabase(cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", core.ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &databaseOptions{
		logger: slog.Default(),
		loader: tokenizer.TiktokenLoader,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	db := &Database{cfg: cfg, metrics: metrics.New(), logger: logger}
	if err := db.open(options); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing partially opened database", "err", closeErr)
		}
		return nil, err
	}
	return db, nil
}

func (db *Database) open(options *databaseOptions) error {
	cfg := db.cfg
	logger := db.logger

	var err error
	if options.inMemory {
		db.backend, err = badger.OpenBackend("", true)
	} else {
		db.backend, err = badger.OpenBackend(cfg.BadgerDir(), false)
	}
	if err != nil {
		return err
	}
	db.cache = badger.NewChunkCache(db.backend)

	if db.store, err = sqlite.OpenStore(cfg.DatabasePath(), sqlite.WithLogger(logger)); err != nil {
		return err
	}

	embedder := options.embedder
	if embedder == nil && cfg.AI.Enabled {
		if db.provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			return err
		}
		embedder = db.provider.Embedder()
	}

	db.sink = options.sink
	if db.sink == nil {
		db.sink = vectorindex.Discard{}
		if embedder != nil {
			sinkOpts := []vectorindex.Option{vectorindex.WithLogger(logger), vectorindex.WithBatchSize(cfg.AI.BatchSize)}
			if cfg.AI.RateLimit > 0 {
				sinkOpts = append(sinkOpts, vectorindex.WithRateLimit(rate.Limit(cfg.AI.RateLimit), cfg.AI.Burst))
			}
			db.sink = vectorindex.NewEmbeddingSink(embedder, sinkOpts...)
		}
	}

	loader := options.loader
	if cfg.Tokenizer.Encoding == config.HeuristicEncoding {
		loader = nil
	}
	counter := tokenizer.NewWithLoader(cfg.Tokenizer.Encoding, loader,
		tokenizer.WithRatios(cfg.Tokenizer.WordRatio, cfg.Tokenizer.CharsPerToken),
		tokenizer.WithLogger(logger))

	chunkOpts := []chunking.Option{
		chunking.WithLogger(logger),
		chunking.WithMetrics(db.metrics),
		chunking.WithSimilarityThreshold(cfg.Chunking.SimilarityThreshold),
	}
	if embedder != nil {
		chunkOpts = append(chunkOpts, chunking.WithEmbedder(embedder))
	}
	for mediaType, name := range cfg.Chunking.Overrides {
		chunkOpts = append(chunkOpts, chunking.WithOverride(mediaType, core.Strategy(name)))
	}
	db.chunker = chunking.New(extract.New(extract.WithLogger(logger)), db.cache, counter, chunkOpts...)

	queueOpts := []queue.Option{queue.WithLogger(logger)}
	if cfg.Workers.PoolSize > 0 {
		queueOpts = append(queueOpts, queue.WithPoolSize(cfg.Workers.PoolSize))
	}
	if cfg.Workers.Backlog > 0 {
		queueOpts = append(queueOpts, queue.WithBacklog(cfg.Workers.Backlog))
	}
	if db.queue, err = queue.New(queueOpts...); err != nil {
		return err
	}

	db.tasks = tasks.NewManager(badger.NewTaskRepository(db.backend), tasks.WithLogger(logger), tasks.WithMetrics(db.metrics))
	db.orch, err = orchestrator.New(db.queue, db.tasks, db.store, db.chunker, db.sink,
		orchestrator.WithConfig(cfg.OrchestratorConfig()),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(db.metrics))
	if err != nil {
		return err
	}

	db.sweeper, err = tasks.NewSweeper(db.tasks, cfg.Retention.Schedule, cfg.Retention.MaxAge, logger)
	return err
}

// Close stops the workers and releases the stores. Queued jobs finish first.
func (db *Database) Close() error {
	if db.sweeper != nil {
		db.sweeper.Stop()
	}
	if db.queue != nil {
		db.queue.Close()
	}

	var errs []error
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if db.store != nil {
		if err := db.store.Close(); err != nil {
			db.logger.Error("error closing document store", "err", err)
			errs = append(errs, err)
		}
	}
	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			db.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartSweeper schedules the task retention sweep. It stops with Close.
func (db *Database) StartSweeper() error {
	return db.sweeper.Start()
}

func (db *Database) Config() *config.Config {
	return db.cfg
}

func (db *Database) Orchestrator() *orchestrator.Orchestrator {
	return db.orch
}

func (db *Database) Tasks() *tasks.Manager {
	return db.tasks
}

func (db *Database) Documents() storage.DocumentStore {
	return db.store
}

func (db *Database) Chunker() *chunking.Service {
	return db.chunker
}

func (db *Database) Queue() *queue.Queue {
	return db.queue
}

// Reindexer returns a reindexer delivering completed documents to the
// sink used by the pipeline, with the configured retry policy.
func (db *Database) Reindexer(batchSize int) *reindex.Reindexer {
	return reindex.New(db.store, db.sink, &reindex.Config{
		BatchSize:  batchSize,
		Collection: db.cfg.Workers.Collection,
		MaxRetries: db.cfg.Workers.MaxRetries,
		RetryDelay: db.cfg.Workers.BaseDelay,
	}, db.logger)
}

func (db *Database) Sweeper() *tasks.Sweeper {
	return db.sweeper
}

func (db *Database) Metrics() *metrics.Metrics {
	return db.metrics
}
