// Package vectorindex delivers finished chunks to a vector index.
// The pipeline only writes; retrieval belongs to the index service.
package vectorindex

import (
	"context"
	"maps"

	"github.com/poiesic/docket/core"
)

// Entry is one chunk as the index receives it.
type Entry struct {
	ID         core.ID
	DocumentID string
	Text       string
	Metadata   map[string]any
}

// Sink receives finished chunks. Upserting an entry with an existing ID
// replaces it, so redelivered documents do not create duplicates.
type Sink interface {
	Upsert(ctx context.Context, collection string, entries []Entry) error

	// Delete removes every entry of documentID from collection and reports
	// how many were removed. Deleting an unknown document is not an error.
	Delete(ctx context.Context, collection, documentID string) (int, error)
}

// EntriesFromChunks converts chunks into index entries. Entry IDs derive
// from the document ID and chunk content.
func EntriesFromChunks(chunks []core.Chunk) []Entry {
	entries := make([]Entry, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		meta := maps.Clone(c.Metadata)
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta["sequence_index"] = c.SequenceIndex
		meta["content_hash"] = c.ContentHash()
		entries[i] = Entry{
			ID:         c.IndexID(),
			DocumentID: c.DocumentID,
			Text:       c.Content,
			Metadata:   meta,
		}
	}
	return entries
}

// Discard accepts every entry and stores nothing. It stands in for the
// index when no embedding service is configured.
type Discard struct{}

// Upsert implements Sink.
func (Discard) Upsert(context.Context, string, []Entry) error {
	return nil
}

// Delete implements Sink.
func (Discard) Delete(context.Context, string, string) (int, error) {
	return 0, nil
}
