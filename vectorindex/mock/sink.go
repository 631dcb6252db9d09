package mock

import (
	"context"
	"sync"

	"github.com/poiesic/docket/vectorindex"
)

// Call records one Upsert.
type Call struct {
	Collection string
	Entries    []vectorindex.Entry
}

// Deletion records one Delete.
type Deletion struct {
	Collection string
	DocumentID string
}

// Sink is a test double for vectorindex.Sink. Upserted entries are kept
// so Delete can report how many it removed.
type Sink struct {
	// UpsertFunc is called by Upsert if set. Calls are recorded either way.
	UpsertFunc func(ctx context.Context, collection string, entries []vectorindex.Entry) error

	// DeleteFunc is called by Delete if set.
	DeleteFunc func(ctx context.Context, collection, documentID string) (int, error)

	mu        sync.Mutex
	calls     []Call
	deletions []Deletion
	stored    map[string]map[string]int // collection -> document -> entries
}

var _ vectorindex.Sink = (*Sink)(nil)

// NewSink creates a sink that accepts everything.
func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Upsert(ctx context.Context, collection string, entries []vectorindex.Entry) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Collection: collection, Entries: entries})
	fn := s.UpsertFunc
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, collection, entries); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		s.stored = make(map[string]map[string]int)
	}
	if s.stored[collection] == nil {
		s.stored[collection] = make(map[string]int)
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.DocumentID]++
	}
	for doc, n := range counts {
		s.stored[collection][doc] = n
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, collection, documentID string) (int, error) {
	s.mu.Lock()
	s.deletions = append(s.deletions, Deletion{Collection: collection, DocumentID: documentID})
	fn := s.DeleteFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, collection, documentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.stored[collection][documentID]
	delete(s.stored[collection], documentID)
	return n, nil
}

// Deletions returns a copy of the recorded deletions.
func (s *Sink) Deletions() []Deletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Deletion(nil), s.deletions...)
}

// Stored returns how many entries of documentID the sink holds in collection.
func (s *Sink) Stored(collection, documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[collection][documentID]
}

// Calls returns a copy of the recorded calls.
func (s *Sink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
