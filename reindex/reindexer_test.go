package reindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage/sqlite"
	"github.com/poiesic/docket/vectorindex"
	vmock "github.com/poiesic/docket/vectorindex/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.OpenStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// addDocument stores a document with n chunks in the given status.
func addDocument(t *testing.T, store *sqlite.Store, id, collection string, status core.DocumentStatus, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveDocument(ctx, &core.Document{
		ID:         id,
		Status:     status,
		SourcePath: "/src/" + id + ".txt",
		Collection: collection,
	}))

	chunks := make([]core.Chunk, n)
	for i := range chunks {
		chunks[i] = core.Chunk{
			DocumentID:    id,
			Content:       fmt.Sprintf("%s chunk %d", id, i),
			SequenceIndex: i,
		}
	}
	require.NoError(t, store.ReplaceChunks(ctx, id, chunks))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestDocumentIterator(t *testing.T) {
	store := setupStore(t)
	for i := range 5 {
		addDocument(t, store, fmt.Sprintf("doc-%d", i), "", core.DocumentCompleted, 1)
	}
	addDocument(t, store, "failed", "", core.DocumentError, 1)

	iter := NewDocumentIterator(store, 2)
	total, err := iter.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	var sizes []int
	var ids []string
	err = iter.ForEach(context.Background(), func(docs []*core.Document) error {
		sizes = append(sizes, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.NotContains(t, ids, "failed")
}

func TestDocumentIterator_StopsOnError(t *testing.T) {
	store := setupStore(t)
	for i := range 4 {
		addDocument(t, store, fmt.Sprintf("doc-%d", i), "", core.DocumentCompleted, 1)
	}

	boom := errors.New("boom")
	calls := 0
	err := NewDocumentIterator(store, 1).ForEach(context.Background(), func([]*core.Document) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDocumentIterator_Cancelled(t *testing.T) {
	store := setupStore(t)
	addDocument(t, store, "doc", "", core.DocumentCompleted, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDocumentIterator(store, 0).ForEach(ctx, func([]*core.Document) error {
		t.Fatal("fn must not be called")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReindexer_Run(t *testing.T) {
	store := setupStore(t)
	addDocument(t, store, "a", "papers", core.DocumentCompleted, 3)
	addDocument(t, store, "b", "", core.DocumentCompleted, 2)
	addDocument(t, store, "c", "papers", core.DocumentCompleted, 1)
	addDocument(t, store, "pending", "", core.DocumentPending, 4)

	sink := vmock.NewSink()
	r := New(store, sink, testConfig(), nil)

	total, err := r.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	var progress []int
	stats, err := r.Run(context.Background(), func(done int) { progress = append(progress, done) })
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 6, stats.Chunks)
	assert.Equal(t, []int{2, 3}, progress)

	perCollection := make(map[string]int)
	for _, call := range sink.Calls() {
		perCollection[call.Collection] += len(call.Entries)
	}
	assert.Equal(t, map[string]int{"papers": 4, "documents": 2}, perCollection)
}

func TestReindexer_EntriesMatchIngestion(t *testing.T) {
	store := setupStore(t)
	addDocument(t, store, "a", "", core.DocumentCompleted, 2)

	sink := vmock.NewSink()
	_, err := New(store, sink, testConfig(), nil).Run(context.Background(), nil)
	require.NoError(t, err)

	chunks, err := store.LoadChunks(context.Background(), "a")
	require.NoError(t, err)

	calls := sink.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, vectorindex.EntriesFromChunks(chunks), calls[0].Entries)
}

func TestReindexer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		err       error
		wantErr   error
		wantCalls int32
	}{
		{
			name:      "transient failure retried",
			failures:  2,
			err:       core.ErrTransientIO,
			wantCalls: 3,
		},
		{
			name:      "retries exhausted",
			failures:  10,
			err:       core.ErrTransientIO,
			wantErr:   core.ErrTransientIO,
			wantCalls: 4,
		},
		{
			name:      "config error not retried",
			failures:  10,
			err:       core.ErrConfig,
			wantErr:   core.ErrConfig,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupStore(t)
			addDocument(t, store, "a", "", core.DocumentCompleted, 1)

			var calls atomic.Int32
			sink := vmock.NewSink()
			sink.UpsertFunc = func(context.Context, string, []vectorindex.Entry) error {
				if calls.Add(1) <= tt.failures {
					return tt.err
				}
				return nil
			}

			stats, err := New(store, sink, testConfig(), nil).Run(context.Background(), nil)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, stats.Documents)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Documents)
		})
	}
}

func TestReindexer_EmptyStore(t *testing.T) {
	sink := vmock.NewSink()
	stats, err := New(setupStore(t), sink, nil, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Empty(t, sink.Calls())
}
