package vectorindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/docket/ai/mock"
	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testChunks() []core.Chunk {
	return []core.Chunk{
		{DocumentID: "doc-1", Content: "alpha", SequenceIndex: 0, Metadata: map[string]any{"source": "a.txt"}},
		{DocumentID: "doc-1", Content: "beta", SequenceIndex: 1},
		{DocumentID: "doc-1", Content: "gamma", SequenceIndex: 2},
	}
}

func TestEntriesFromChunks(t *testing.T) {
	chunks := testChunks()
	entries := EntriesFromChunks(chunks)
	require.Len(t, entries, 3)

	for i, e := range entries {
		assert.Equal(t, chunks[i].IndexID(), e.ID)
		assert.Equal(t, chunks[i].Content, e.Text)
		assert.Equal(t, i, e.Metadata["sequence_index"])
		assert.Equal(t, chunks[i].ContentHash(), e.Metadata["content_hash"])
	}
	assert.Equal(t, "a.txt", entries[0].Metadata["source"])
	assert.NotContains(t, chunks[0].Metadata, "content_hash", "chunk metadata must not be mutated")
}

func TestEntriesFromChunks_StableIDs(t *testing.T) {
	a := EntriesFromChunks(testChunks())
	b := EntriesFromChunks(testChunks())
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}

	other := testChunks()
	other[0].DocumentID = "doc-2"
	assert.NotEqual(t, a[0].ID, EntriesFromChunks(other)[0].ID)
}

func TestEmbeddingSink_Upsert(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	sink := NewEmbeddingSink(embedder, WithBatchSize(2))
	ctx := context.Background()

	entries := EntriesFromChunks(testChunks())
	require.NoError(t, sink.Upsert(ctx, "docs", entries))
	assert.Equal(t, 3, sink.Count("docs"))
	assert.Equal(t, 2, embedder.CallCount(), "three entries in batches of two")

	rec, ok := sink.Get("docs", entries[1].ID)
	require.True(t, ok)
	assert.Equal(t, "beta", rec.Text)
	assert.Len(t, rec.Vector, mock.DefaultDimensions)

	// Upserting again replaces rather than duplicates.
	require.NoError(t, sink.Upsert(ctx, "docs", entries))
	assert.Equal(t, 3, sink.Count("docs"))
	assert.Zero(t, sink.Count("other"))
}

func TestEmbeddingSink_Errors(t *testing.T) {
	ctx := context.Background()
	entries := EntriesFromChunks(testChunks())

	tests := []struct {
		name    string
		fn      func(context.Context, []string) ([][]float32, error)
		wantErr error
	}{
		{
			name: "embedder failure is transient",
			fn: func(context.Context, []string) ([][]float32, error) {
				return nil, errors.New("connection reset")
			},
			wantErr: core.ErrTransientIO,
		},
		{
			name: "count mismatch",
			fn: func(context.Context, []string) ([][]float32, error) {
				return [][]float32{{1, 0}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := mock.NewMockEmbedder()
			embedder.EmbedTextsFunc = tt.fn
			sink := NewEmbeddingSink(embedder)

			err := sink.Upsert(ctx, "docs", entries)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Zero(t, sink.Count("docs"), "nothing stored on failure")
		})
	}
}

func TestEmbeddingSink_Validation(t *testing.T) {
	sink := NewEmbeddingSink(mock.NewMockEmbedder())
	err := sink.Upsert(context.Background(), "", EntriesFromChunks(testChunks()))
	assert.ErrorIs(t, err, core.ErrConfig)

	assert.NoError(t, sink.Upsert(context.Background(), "docs", nil))
}

func TestEmbeddingSink_RateLimitHonorsContext(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	sink := NewEmbeddingSink(embedder, WithBatchSize(1), WithRateLimit(rate.Every(time.Hour), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sink.Upsert(ctx, "docs", EntriesFromChunks(testChunks()))
	require.Error(t, err)
	assert.Equal(t, 1, embedder.CallCount(), "second batch waits on the limiter")
	assert.Zero(t, sink.Count("docs"))
}

func TestEmbeddingSink_Delete(t *testing.T) {
	sink := NewEmbeddingSink(mock.NewMockEmbedder())
	ctx := context.Background()

	other := testChunks()
	for i := range other {
		other[i].DocumentID = "doc-2"
	}
	require.NoError(t, sink.Upsert(ctx, "docs", EntriesFromChunks(testChunks())))
	require.NoError(t, sink.Upsert(ctx, "docs", EntriesFromChunks(other)))
	require.Equal(t, 6, sink.Count("docs"))

	n, err := sink.Delete(ctx, "docs", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, sink.Count("docs"))

	n, err = sink.Delete(ctx, "docs", "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = sink.Delete(ctx, "empty", "doc-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = sink.Delete(ctx, "", "doc-2")
	assert.ErrorIs(t, err, core.ErrConfig)
}
