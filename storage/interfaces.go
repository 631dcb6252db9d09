package storage

import (
	"context"
	"time"

	"github.com/poiesic/docket/core"
)

// ChunkCache stores splitter output keyed by content fingerprint and
// chunking parameters. Implementations must be safe for concurrent use;
// concurrent writes to the same key resolve last-writer-wins and a reader
// never observes a partially written entry.
type ChunkCache interface {
	// Get returns the cached chunks for key.
	// A missing or unreadable entry is a miss: (nil, false, nil).
	Get(ctx context.Context, key string) ([]core.Chunk, bool, error)

	// Put stores chunks under key and records that key belongs to documentID.
	Put(ctx context.Context, key, documentID string, chunks []core.Chunk) error

	// InvalidateDocument removes every entry written for documentID.
	// Returns the number of entries removed.
	InvalidateDocument(ctx context.Context, documentID string) (int, error)

	// InvalidateAll removes every entry. Returns the number of entries removed.
	InvalidateAll(ctx context.Context) (int, error)
}

// TaskFilter selects task records. Zero-valued fields do not filter.
// From and To bound CreatedAt as From <= CreatedAt < To.
type TaskFilter struct {
	Type     string
	Status   core.TaskStatus
	OwnerID  string
	ParentID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// TaskRepository persists task records.
// Updates to one record are serialized; updates to different records do not
// block each other.
type TaskRepository interface {
	// Create stores a new record. Returns ErrDuplicateKey if the ID exists.
	Create(ctx context.Context, record *core.TaskRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*core.TaskRecord, error)

	// Update applies fn to the stored record and persists the result atomically.
	// If fn returns ErrUnchanged nothing is written and the current record is
	// returned together with ErrUnchanged. Any other error aborts the update.
	Update(ctx context.Context, id string, fn func(*core.TaskRecord) error) (*core.TaskRecord, error)

	// List returns matching records, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*core.TaskRecord, error)

	// Count returns the number of matching records, ignoring Limit and Offset.
	Count(ctx context.Context, filter TaskFilter) (int, error)

	// Children returns the records whose ParentID is parentID, oldest first.
	Children(ctx context.Context, parentID string) ([]*core.TaskRecord, error)

	// DeleteCompletedBefore removes terminal records completed before cutoff.
	// Returns the number of records removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DocumentStore persists documents and their chunk sets.
type DocumentStore interface {
	// SaveDocument inserts or replaces a document row.
	SaveDocument(ctx context.Context, doc *core.Document) error

	// LoadDocument retrieves a document. Returns ErrNotFound if it doesn't exist.
	LoadDocument(ctx context.Context, id string) (*core.Document, error)

	// ReplaceChunks atomically swaps the chunk set of a document: either all
	// old chunks are gone and all new chunks are present, or nothing changes.
	ReplaceChunks(ctx context.Context, documentID string, chunks []core.Chunk) error

	// LoadChunks returns the persisted chunks of a document ordered by sequence index.
	LoadChunks(ctx context.Context, documentID string) ([]core.Chunk, error)

	// CountChunks returns the number of persisted chunks of a document.
	CountChunks(ctx context.Context, documentID string) (int, error)

	// UpdateStatus applies fn to the stored document and persists the result
	// in one transaction. Returns ErrNotFound if the document doesn't exist.
	UpdateStatus(ctx context.Context, id string, fn func(*core.Document) error) (*core.Document, error)

	// DeleteDocument removes a document row and its chunk set in one
	// transaction. Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns documents in the given status, or all documents
	// when status is empty, oldest first.
	ListDocuments(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error)

	// Close releases the underlying database.
	Close() error
}
