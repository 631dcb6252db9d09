package core

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact identifier for derived entities such as vector index entries.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Fingerprint returns a stable hex digest of source content.
// Identical bytes always produce the same fingerprint across runs.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Chunk is a contiguous slice of a document's extracted text.
// Chunks are immutable once created; re-chunking replaces the whole set.
type Chunk struct {
	DocumentID    string
	Content       string
	SequenceIndex int            // Zero-based, order-significant
	WordCount     int
	TokenCount    int
	Metadata      map[string]any // Provenance: source, media type, page hints, extractor metadata
}

// ContentHash returns the fingerprint of the chunk content.
func (c *Chunk) ContentHash() string {
	return Fingerprint([]byte(c.Content))
}

// IndexID returns the identifier used for this chunk in external indexes.
func (c *Chunk) IndexID() ID {
	return IDFromContent(c.DocumentID + ":" + c.ContentHash())
}

// DocumentStatus is the processing state of a Document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentParsing    DocumentStatus = "parsing"
	DocumentSplitting  DocumentStatus = "splitting"
	DocumentIndexing   DocumentStatus = "indexing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentError      DocumentStatus = "error"
)

// IsTerminal reports whether no further processing happens without an explicit retry.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentCompleted || s == DocumentError
}

// Phase names a timed stage of document processing.
type Phase string

const (
	PhaseParsing   Phase = "parsing"
	PhaseSplitting Phase = "splitting"
	PhaseIndexing  Phase = "indexing"
)

// Document is the unit of ingestion.
// Zero timestamps mean the phase has not started or completed.
type Document struct {
	ID                   string
	Status               DocumentStatus
	ErrorMessage         string
	SegmentCount         int
	SourcePath           string
	MediaType            string // Declared media type; may be empty
	Collection           string // Vector index collection receiving the chunks
	ParsingStartedAt     time.Time
	ParsingCompletedAt   time.Time
	SplittingStartedAt   time.Time
	SplittingCompletedAt time.Time
	IndexingStartedAt    time.Time
	IndexingCompletedAt  time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PhaseDurations returns the duration of every phase that has both timestamps set.
func (d *Document) PhaseDurations() map[Phase]time.Duration {
	durations := make(map[Phase]time.Duration, 3)
	add := func(p Phase, start, end time.Time) {
		if !start.IsZero() && !end.IsZero() {
			durations[p] = end.Sub(start)
		}
	}
	add(PhaseParsing, d.ParsingStartedAt, d.ParsingCompletedAt)
	add(PhaseSplitting, d.SplittingStartedAt, d.SplittingCompletedAt)
	add(PhaseIndexing, d.IndexingStartedAt, d.IndexingCompletedAt)
	return durations
}

// TaskStatus is the lifecycle state of a background job.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReceived  TaskStatus = "received"
	TaskStarted   TaskStatus = "started"
	TaskRunning   TaskStatus = "running"
	TaskProgress  TaskStatus = "progress"
	TaskRetrying  TaskStatus = "retrying"
	TaskSuccess   TaskStatus = "success"
	TaskFailure   TaskStatus = "failure"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskFailure, TaskCancelled:
		return true
	}
	return false
}

// IsActive reports whether the task is executing and reporting progress.
func (s TaskStatus) IsActive() bool {
	return s == TaskRunning || s == TaskProgress
}

// DefaultMaxRetries is used when a task is created without an explicit retry budget.
const DefaultMaxRetries = 3

// TaskRecord is a background-job ledger entry.
// Result and Error are empty when unset.
type TaskRecord struct {
	ID          string
	Type        string
	Status      TaskStatus
	Progress    float64 // 0-100
	Retries     int
	MaxRetries  int
	Result      string
	Error       string
	OwnerID     string
	ParentID    string            // Set for tasks spawned by a batch task
	Metadata    map[string]string // Free-form: document_id, file_path, ...
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}
