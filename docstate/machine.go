// Package docstate owns the processing status of documents.
//
// Every status change goes through a Machine, which validates the edge,
// stamps phase timestamps and persists the result through a
// storage.DocumentStore in one read-modify-write.
package docstate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/metrics"
	"github.com/poiesic/docket/storage"
)

// transitions lists the permitted edges besides "any -> error".
var transitions = map[core.DocumentStatus]core.DocumentStatus{
	core.DocumentPending:    core.DocumentProcessing,
	core.DocumentProcessing: core.DocumentParsing,
	core.DocumentParsing:    core.DocumentSplitting,
	core.DocumentSplitting:  core.DocumentIndexing,
	core.DocumentIndexing:   core.DocumentCompleted,
	core.DocumentError:      core.DocumentPending,
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to core.DocumentStatus) bool {
	if to == core.DocumentError {
		return from != core.DocumentError
	}
	next, ok := transitions[from]
	return ok && next == to
}

// IsMidFlight reports whether a worker is processing a document in status s.
func IsMidFlight(s core.DocumentStatus) bool {
	switch s {
	case core.DocumentProcessing, core.DocumentParsing, core.DocumentSplitting, core.DocumentIndexing:
		return true
	}
	return false
}

// Machine applies status transitions to stored documents.
type Machine struct {
	store   storage.DocumentStore
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithMetrics records phase durations and terminal statuses.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// New creates a Machine over store.
func New(store storage.DocumentStore, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "docstate")
	return m
}

// Get loads the current state of a document.
func (m *Machine) Get(ctx context.Context, id string) (*core.Document, error) {
	return m.store.LoadDocument(ctx, id)
}

// Begin moves a pending document to processing and clears the phase
// timestamps of any earlier run.
func (m *Machine) Begin(ctx context.Context, id string) (*core.Document, error) {
	return m.transition(ctx, id, core.DocumentProcessing, func(d *core.Document) {
		d.ParsingStartedAt, d.ParsingCompletedAt = time.Time{}, time.Time{}
		d.SplittingStartedAt, d.SplittingCompletedAt = time.Time{}, time.Time{}
		d.IndexingStartedAt, d.IndexingCompletedAt = time.Time{}, time.Time{}
	})
}

// Advance moves a document one phase forward: processing to parsing,
// parsing to splitting or splitting to indexing. The previous phase is
// stamped complete and the next one started.
func (m *Machine) Advance(ctx context.Context, id string, to core.DocumentStatus) (*core.Document, error) {
	var stamp func(*core.Document, time.Time)
	switch to {
	case core.DocumentParsing:
		stamp = func(d *core.Document, now time.Time) {
			d.ParsingStartedAt = now
		}
	case core.DocumentSplitting:
		stamp = func(d *core.Document, now time.Time) {
			d.ParsingCompletedAt = now
			d.SplittingStartedAt = now
		}
	case core.DocumentIndexing:
		stamp = func(d *core.Document, now time.Time) {
			d.SplittingCompletedAt = now
			d.IndexingStartedAt = now
		}
	default:
		return nil, fmt.Errorf("%w: %s is not a processing phase", core.ErrInvalidTransition, to)
	}

	now := m.now()
	return m.transition(ctx, id, to, func(d *core.Document) { stamp(d, now) })
}

// Complete finishes an indexing document. The segment count is read from
// the store so it always equals the number of persisted chunks.
func (m *Machine) Complete(ctx context.Context, id string) (*core.Document, error) {
	count, err := m.store.CountChunks(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	doc, err := m.transition(ctx, id, core.DocumentCompleted, func(d *core.Document) {
		d.IndexingCompletedAt = now
		d.SegmentCount = count
		d.ErrorMessage = ""
	})
	if err != nil {
		return nil, err
	}
	m.metrics.ObservePhases(doc)
	m.metrics.DocumentFinished(core.DocumentCompleted)
	return doc, nil
}

// Fail moves a document to error. message must not be blank.
func (m *Machine) Fail(ctx context.Context, id, message string) (*core.Document, error) {
	if strings.TrimSpace(message) == "" {
		return nil, core.ErrErrorMessageRequired
	}
	doc, err := m.transition(ctx, id, core.DocumentError, func(d *core.Document) {
		d.ErrorMessage = message
	})
	if err != nil {
		return nil, err
	}
	m.logger.Warn("document failed", "documentID", id, "error", message)
	m.metrics.DocumentFinished(core.DocumentError)
	return doc, nil
}

// Retry moves a failed document back to pending. Persisted chunks are kept
// until the next run replaces them.
func (m *Machine) Retry(ctx context.Context, id string) (*core.Document, error) {
	return m.transition(ctx, id, core.DocumentPending, func(d *core.Document) {
		d.ErrorMessage = ""
	})
}

// Reset rolls a document interrupted mid-flight back to pending. A document
// that is not mid-flight is returned unchanged.
func (m *Machine) Reset(ctx context.Context, id string) (*core.Document, error) {
	return m.store.UpdateStatus(ctx, id, func(d *core.Document) error {
		if !IsMidFlight(d.Status) {
			return nil
		}
		m.logger.Info("resetting interrupted document", "documentID", id, "from", d.Status)
		d.Status = core.DocumentPending
		return nil
	})
}

func (m *Machine) transition(ctx context.Context, id string, to core.DocumentStatus, apply func(*core.Document)) (*core.Document, error) {
	return m.store.UpdateStatus(ctx, id, func(d *core.Document) error {
		if !CanTransition(d.Status, to) {
			return fmt.Errorf("%w: document %s %s -> %s", core.ErrInvalidTransition, id, d.Status, to)
		}
		m.logger.Debug("document transition", "documentID", id, "from", d.Status, "to", to)
		d.Status = to
		apply(d)
		return nil
	})
}
