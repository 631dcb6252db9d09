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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/poiesic/docket/core"
)

// CacheEntry is the stored value of a chunk cache key.
type CacheEntry struct {
	DocumentID string
	Chunks     []core.Chunk
	StoredAt   time.Time
}

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry *CacheEntry) []byte {
	size := ord.String.Size(entry.DocumentID) +
		core.ChunkListMUS.Size(entry.Chunks) +
		core.TimeMUS.Size(entry.StoredAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(entry.DocumentID, buf)
	n += core.ChunkListMUS.Marshal(entry.Chunks, buf[n:])
	core.TimeMUS.Marshal(entry.StoredAt, buf[n:])
	return buf
}

// UnmarshalCacheEntry deserializes a CacheEntry from bytes.
// Any decoding failure, including trailing bytes, wraps ErrSerializationFailed.
func UnmarshalCacheEntry(data []byte) (entry *CacheEntry, err error) {
	// Corrupt lengths can push slicing past the end of data
	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, fmt.Errorf("%w: %v", ErrTruncatedData, r)
		}
	}()

	entry = &CacheEntry{}
	var n, n1 int
	entry.DocumentID, n, err = ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: document id: %w", ErrSerializationFailed, err)
	}
	entry.Chunks, n1, err = core.ChunkListMUS.Unmarshal(data[n:])
	n += n1
	if err != nil {
		return nil, fmt.Errorf("%w: chunks: %w", ErrSerializationFailed, err)
	}
	entry.StoredAt, n1, err = core.TimeMUS.Unmarshal(data[n:])
	n += n1
	if err != nil {
		return nil, fmt.Errorf("%w: stored at: %w", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	return entry, nil
}

// MarshalTaskRecord serializes a TaskRecord to bytes.
func MarshalTaskRecord(record *core.TaskRecord) []byte {
	buf := make([]byte, core.TaskRecordMUS.Size(*record))
	core.TaskRecordMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalTaskRecord deserializes a TaskRecord from bytes.
func UnmarshalTaskRecord(data []byte) (record *core.TaskRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record, err = nil, fmt.Errorf("%w: %v", ErrTruncatedData, r)
		}
	}()

	decoded, _, err := core.TaskRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &decoded, nil
}
