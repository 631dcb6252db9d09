package badger

import (
	"encoding/binary"
	"time"
)

// Key prefixes for different data types
const (
	cacheEntryPrefix   = "cache:"
	cacheDocPrefix     = "cachedoc:"
	taskRecordPrefix   = "task:"
	taskCreatedPrefix  = "taskc:"
	taskParentPrefix   = "taskp:"
	keyFieldSeparator  = 0x00
	timestampKeyLength = 8
)

// makeCacheEntryKey generates the key holding a cache entry.
func makeCacheEntryKey(cacheKey string) []byte {
	return []byte(cacheEntryPrefix + cacheKey)
}

// makeCacheDocKey generates a composite key for the document index.
// Format: prefix documentID NUL cacheKey
func makeCacheDocKey(documentID, cacheKey string) []byte {
	buf := makePartialCacheDocKey(documentID)
	return append(buf, cacheKey...)
}

// makePartialCacheDocKey generates the prefix of all index keys of a document.
func makePartialCacheDocKey(documentID string) []byte {
	buf := make([]byte, 0, len(cacheDocPrefix)+len(documentID)+1)
	buf = append(buf, cacheDocPrefix...)
	buf = append(buf, documentID...)
	return append(buf, keyFieldSeparator)
}

// cacheKeyFromDocKey extracts the cache key from a document index key.
func cacheKeyFromDocKey(key []byte, documentID string) string {
	return string(key[len(cacheDocPrefix)+len(documentID)+1:])
}

// makeTaskKey generates a key for a task record by ID.
func makeTaskKey(id string) []byte {
	return []byte(taskRecordPrefix + id)
}

// makeTaskCreatedKey generates a composite key for the creation time index.
// Format: prefix timestamp id
func makeTaskCreatedKey(createdAt time.Time, id string) []byte {
	buf := makePartialTaskCreatedKey(createdAt)
	return append(buf, id...)
}

// makePartialTaskCreatedKey generates a partial key for creation time range scans.
func makePartialTaskCreatedKey(createdAt time.Time) []byte {
	buf := make([]byte, len(taskCreatedPrefix)+timestampKeyLength)
	offset := copy(buf, taskCreatedPrefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	return buf
}

// makeTaskParentKey generates a composite key for the parent index.
// Format: prefix parentID NUL timestamp id
func makeTaskParentKey(parentID string, createdAt time.Time, id string) []byte {
	buf := makePartialTaskParentKey(parentID)
	var ts [timestampKeyLength]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixMicro()))
	buf = append(buf, ts[:]...)
	return append(buf, id...)
}

// makePartialTaskParentKey generates the prefix of all children of parentID.
func makePartialTaskParentKey(parentID string) []byte {
	buf := make([]byte, 0, len(taskParentPrefix)+len(parentID)+1+timestampKeyLength)
	buf = append(buf, taskParentPrefix...)
	buf = append(buf, parentID...)
	return append(buf, keyFieldSeparator)
}
