package storage

import (
	"testing"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalCacheEntry(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name  string
		entry *CacheEntry
	}{
		{
			name:  "no chunks",
			entry: &CacheEntry{DocumentID: "doc-1", StoredAt: now},
		},
		{
			name: "chunks with metadata",
			entry: &CacheEntry{
				DocumentID: "doc-2",
				StoredAt:   now,
				Chunks: []core.Chunk{
					{
						DocumentID:    "doc-2",
						Content:       "first chunk",
						SequenceIndex: 0,
						WordCount:     2,
						TokenCount:    3,
						Metadata:      map[string]any{"source": "a.pdf", "pages": float64(4), "degraded": false},
					},
					{
						DocumentID:    "doc-2",
						Content:       "second chunk with ünïcode",
						SequenceIndex: 1,
						WordCount:     4,
						TokenCount:    7,
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalCacheEntry(tt.entry)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalCacheEntry(data)
			require.NoError(t, err)
			assert.Equal(t, tt.entry.DocumentID, decoded.DocumentID)
			assert.True(t, tt.entry.StoredAt.Equal(decoded.StoredAt))
			require.Len(t, decoded.Chunks, len(tt.entry.Chunks))
			for i := range tt.entry.Chunks {
				assert.Equal(t, tt.entry.Chunks[i], decoded.Chunks[i])
			}
		})
	}
}

func TestUnmarshalCacheEntry_Corrupt(t *testing.T) {
	valid := MarshalCacheEntry(&CacheEntry{
		DocumentID: "doc",
		Chunks:     []core.Chunk{{DocumentID: "doc", Content: "some content"}},
		StoredAt:   time.Now(),
	})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"truncated", valid[:len(valid)/2]},
		{"trailing bytes", append(append([]byte{}, valid...), 0x01, 0x02)},
		{"garbage", []byte{0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := UnmarshalCacheEntry(tt.data)
			assert.Error(t, err)
			assert.Nil(t, entry)
		})
	}
}

func TestMarshalUnmarshalTaskRecord(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name   string
		record *core.TaskRecord
	}{
		{
			name: "new record with zero times",
			record: &core.TaskRecord{
				ID:         "task-1",
				Type:       "process_document",
				Status:     core.TaskPending,
				MaxRetries: core.DefaultMaxRetries,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		},
		{
			name: "finished record",
			record: &core.TaskRecord{
				ID:          "task-2",
				Type:        "process_batch",
				Status:      core.TaskFailure,
				Progress:    62.5,
				Retries:     3,
				MaxRetries:  3,
				Result:      `{"completed":["a"]}`,
				Error:       "transient i/o error: disk full",
				OwnerID:     "user-7",
				ParentID:    "task-0",
				Metadata:    map[string]string{"document_id": "doc-1", "file_path": "/tmp/a.pdf"},
				CreatedAt:   now.Add(-time.Hour),
				StartedAt:   now.Add(-time.Minute),
				CompletedAt: now,
				UpdatedAt:   now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalTaskRecord(tt.record)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalTaskRecord(data)
			require.NoError(t, err)

			assert.Equal(t, tt.record.ID, decoded.ID)
			assert.Equal(t, tt.record.Status, decoded.Status)
			assert.Equal(t, tt.record.Progress, decoded.Progress)
			assert.Equal(t, tt.record.Retries, decoded.Retries)
			assert.Equal(t, tt.record.Metadata, decoded.Metadata)
			assert.Equal(t, tt.record.ParentID, decoded.ParentID)
			assert.Equal(t, tt.record.StartedAt.IsZero(), decoded.StartedAt.IsZero())
			assert.Equal(t, tt.record.CompletedAt.IsZero(), decoded.CompletedAt.IsZero())
			assert.True(t, tt.record.CreatedAt.Equal(decoded.CreatedAt))
			assert.True(t, tt.record.CompletedAt.Equal(decoded.CompletedAt))
		})
	}
}

func TestMarshalTaskRecord_MetadataOrderStable(t *testing.T) {
	record := &core.TaskRecord{
		ID:       "task",
		Metadata: map[string]string{"b": "2", "a": "1", "c": "3"},
	}
	first := MarshalTaskRecord(record)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MarshalTaskRecord(record))
	}
}

func TestUnmarshalTaskRecord_Invalid(t *testing.T) {
	_, err := UnmarshalTaskRecord([]byte{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
