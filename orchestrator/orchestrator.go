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


// Package orchestrator binds chunking work to task records.
//
// Every document job runs inside the same wrapper: the task record is
// created at submission, marked running when a worker picks the job up,
// retried with exponential backoff after transient failures and finished
// as completed, failed or cancelled. Batches walk their documents in small
// groups and poll the ledger for cancellation before every document.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docket/chunking"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/docstate"
	"github.com/poiesic/docket/metrics"
	"github.com/poiesic/docket/queue"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/tasks"
	"github.com/poiesic/docket/vectorindex"
)

// Task types handled by the orchestrator.
const (
	TypeDocument    = "chunk_document"
	TypeBatch       = "chunk_batch"
	TypeDeleteBatch = "delete_batch"
)

// Task metadata keys.
const (
	MetaDocumentID = "document_id"
	MetaFilePath   = "file_path"
	MetaDocuments  = "documents"
)

// Chunker produces the chunks of one document. It calls the onSplit hooks
// after extraction and before splitting.
type Chunker interface {
	ChunkDocument(ctx context.Context, doc *core.Document, req core.ChunkingRequest, onSplit ...chunking.SplitHook) ([]core.Chunk, error)

	// Invalidate drops cached chunks of documentID.
	Invalidate(ctx context.Context, documentID string) (int, error)
}

// Submission describes a document to ingest.
type Submission struct {
	DocumentID string // Assigned with uuid when empty
	Path       string
	MediaType  string // Optional declared media type
	Collection string // Config.Collection when empty
}

// Orchestrator submits and runs chunking jobs.
type Orchestrator struct {
	cfg     *Config
	queue   *queue.Queue
	tasks   *tasks.Manager
	store   storage.DocumentStore
	docs    *docstate.Machine
	chunker Chunker
	sink    vectorindex.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Orchestrator) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records retries and document outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator and registers its job handlers on q.
func New(q *queue.Queue, manager *tasks.Manager, store storage.DocumentStore, chunker Chunker, sink vectorindex.Sink, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:     DefaultConfig(),
		queue:   q,
		tasks:   manager,
		store:   store,
		chunker: chunker,
		sink:    sink,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	o.logger = o.logger.With("component", "orchestrator")
	o.docs = docstate.New(store, docstate.WithLogger(o.logger), docstate.WithMetrics(o.metrics))

	q.Register(TypeDocument, o.handleDocument)
	q.Register(TypeBatch, o.handleBatch)
	q.Register(TypeDeleteBatch, o.handleDeleteBatch)
	return o, nil
}

// Documents returns the document state machine used by the orchestrator.
func (o *Orchestrator) Documents() *docstate.Machine {
	return o.docs
}

// SubmitDocument registers a document and enqueues its chunking job.
// The returned record is pending; the job runs asynchronously.
func (o *Orchestrator) SubmitDocument(ctx context.Context, sub Submission, req core.ChunkingRequest, ownerID string) (*core.TaskRecord, error) {
	if err := core.ValidateChunkingRequest(req); err != nil {
		return nil, err
	}
	doc, err := o.register(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.enqueueDocument(ctx, doc, req, ownerID)
}

// SubmitBatch registers documents and enqueues one batch job for them.
// A child task is created per document so each has its own outcome.
func (o *Orchestrator) SubmitBatch(ctx context.Context, subs []Submission, req core.ChunkingRequest, ownerID string) (*core.TaskRecord, error) {
	if err := core.ValidateChunkingRequest(req); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: batch has no documents", core.ErrConfig)
	}
	for _, sub := range subs {
		if sub.Path == "" {
			return nil, fmt.Errorf("%w: document path is required", core.ErrConfig)
		}
	}

	docs := make([]*core.Document, 0, len(subs))
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		doc, err := o.register(ctx, sub)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}

	parent, err := o.tasks.Create(ctx, tasks.NewTask{
		Type:       TypeBatch,
		OwnerID:    ownerID,
		MaxRetries: o.cfg.MaxRetries,
		Metadata:   map[string]string{MetaDocuments: strconv.Itoa(len(docs))},
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if _, err := o.tasks.Create(ctx, tasks.NewTask{
			Type:       TypeDocument,
			OwnerID:    ownerID,
			ParentID:   parent.ID,
			MaxRetries: o.cfg.MaxRetries,
			Metadata:   map[string]string{MetaDocumentID: doc.ID, MetaFilePath: doc.SourcePath},
		}); err != nil {
			return nil, err
		}
	}

	payload := make(map[string]string, 8)
	if payload[keyDocuments], err = encodeDocumentIDs(ids); err != nil {
		return nil, err
	}
	if err := encodeRequest(req, payload); err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, parent.ID, TypeBatch, payload); err != nil {
		return nil, err
	}
	o.logger.Info("batch submitted", "taskID", parent.ID, "documents", len(docs))
	return parent, nil
}

// RetryDocument moves a failed document back to pending and enqueues a new
// chunking job for it. Only documents in error can be retried.
func (o *Orchestrator) RetryDocument(ctx context.Context, documentID string, req core.ChunkingRequest, ownerID string) (*core.TaskRecord, error) {
	if err := core.ValidateChunkingRequest(req); err != nil {
		return nil, err
	}
	doc, err := o.docs.Retry(ctx, documentID)
	if errors.Is(err, core.ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: only failed documents can be retried: %w", core.ErrConfig, err)
	}
	if err != nil {
		return nil, err
	}
	o.logger.Info("retrying document", "documentID", documentID)
	return o.enqueueDocument(ctx, doc, req, ownerID)
}

// Cancel records cancellation of taskID and every child task it spawned,
// then revokes their jobs. With terminate set running jobs are interrupted;
// otherwise they stop at the next document boundary. Returns the IDs of
// the children cancelled by this call.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string, terminate bool) ([]string, error) {
	children, err := o.tasks.CancelTree(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, id := range append([]string{taskID}, children...) {
		if err := o.queue.Revoke(id, terminate); err != nil && !errors.Is(err, queue.ErrUnknownTask) {
			return children, err
		}
	}
	o.logger.Info("cancellation requested", "taskID", taskID, "children", len(children), "terminate", terminate)
	return children, nil
}

func (o *Orchestrator) register(ctx context.Context, sub Submission) (*core.Document, error) {
	if sub.Path == "" {
		return nil, fmt.Errorf("%w: document path is required", core.ErrConfig)
	}
	doc := &core.Document{
		ID:         sub.DocumentID,
		Status:     core.DocumentPending,
		SourcePath: sub.Path,
		MediaType:  sub.MediaType,
		Collection: sub.Collection,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else {
		_, err := o.store.LoadDocument(ctx, doc.ID)
		if err == nil {
			return nil, fmt.Errorf("%w: document %s already exists", core.ErrConfig, doc.ID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	if doc.Collection == "" {
		doc.Collection = o.cfg.Collection
	}
	doc.CreatedAt = time.Now().UTC()
	if err := o.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (o *Orchestrator) enqueueDocument(ctx context.Context, doc *core.Document, req core.ChunkingRequest, ownerID string) (*core.TaskRecord, error) {
	task, err := o.tasks.Create(ctx, tasks.NewTask{
		Type:       TypeDocument,
		OwnerID:    ownerID,
		MaxRetries: o.cfg.MaxRetries,
		Metadata:   map[string]string{MetaDocumentID: doc.ID, MetaFilePath: doc.SourcePath},
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]string{keyDocumentID: doc.ID}
	if err := encodeRequest(req, payload); err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, task.ID, TypeDocument, payload); err != nil {
		return nil, err
	}
	o.logger.Debug("document submitted", "taskID", task.ID, "documentID", doc.ID)
	return task, nil
}

// enqueue hands a job to the queue. A job the queue refuses is recorded
// as failed so its record does not stay pending forever.
func (o *Orchestrator) enqueue(ctx context.Context, taskID, taskType string, payload map[string]string) error {
	_, err := o.queue.Enqueue(ctx, queue.Job{ID: taskID, Type: taskType, Payload: payload}, o.cfg.Queue)
	if err == nil {
		return nil
	}
	if _, markErr := o.tasks.MarkFailed(context.WithoutCancel(ctx), taskID, err.Error()); markErr != nil {
		o.logger.Error("failed to record enqueue failure", "taskID", taskID, "err", markErr)
	}
	return err
}

// wasCancelled reports whether cancellation of taskID is on record. It is
// consulted after ctx ended, so it uses a context of its own.
func (o *Orchestrator) wasCancelled(ctx context.Context, taskID string) bool {
	cancelled, err := o.tasks.IsCancelled(context.WithoutCancel(ctx), taskID)
	if err != nil {
		o.logger.Warn("could not read task status", "taskID", taskID, "err", err)
		return false
	}
	return cancelled
}
