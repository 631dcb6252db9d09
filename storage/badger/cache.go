package badger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"
)

// ChunkCache implements storage.ChunkCache for BadgerDB.
//
// Each entry is written together with a document index row in one
// transaction, so readers see either the previous entry or the new one.
// Writes to the same key are serialized; the last writer wins.
type ChunkCache struct {
	backend *Backend
	locks   *keyedMutex
	logger  *slog.Logger
}

var _ storage.ChunkCache = (*ChunkCache)(nil)

// NewChunkCache creates a new ChunkCache.
func NewChunkCache(backend *Backend) *ChunkCache {
	return &ChunkCache{
		backend: backend,
		locks:   newKeyedMutex(),
		logger:  backend.logger.With("store", "chunk-cache"),
	}
}

// Get retrieves the chunks cached under key.
func (c *ChunkCache) Get(ctx context.Context, key string) ([]core.Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var entry *storage.CacheEntry
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCacheEntryKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			entry, decodeErr = storage.UnmarshalCacheEntry(val)
			if decodeErr != nil {
				c.logger.Warn("unreadable cache entry treated as miss", "key", key, "err", decodeErr)
				entry = nil
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry.Chunks, true, nil
}

// Put stores chunks under key, replacing any previous entry.
func (c *ChunkCache) Put(ctx context.Context, key, documentID string, chunks []core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value := storage.MarshalCacheEntry(&storage.CacheEntry{
		DocumentID: documentID,
		Chunks:     chunks,
		StoredAt:   time.Now().UTC(),
	})

	unlock := c.locks.Lock(key)
	defer unlock()

	return c.backend.WithRetryTx(func(tx *badger.Txn) error {
		entryKey := makeCacheEntryKey(key)

		// Drop the index row of a previous owner
		if item, err := tx.Get(entryKey); err == nil {
			_ = item.Value(func(val []byte) error {
				if prev, err := storage.UnmarshalCacheEntry(val); err == nil && prev.DocumentID != documentID {
					return tx.Delete(makeCacheDocKey(prev.DocumentID, key))
				}
				return nil
			})
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(entryKey, value); err != nil {
			return err
		}
		if err := tx.Set(makeCacheDocKey(documentID, key), nil); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// InvalidateDocument removes every entry written for documentID.
func (c *ChunkCache) InvalidateDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	indexKeys, err := c.backend.ScanKeys(makePartialCacheDocKey(documentID))
	if err != nil {
		return 0, err
	}

	keys := make([][]byte, 0, 2*len(indexKeys))
	for _, indexKey := range indexKeys {
		keys = append(keys, indexKey, makeCacheEntryKey(cacheKeyFromDocKey(indexKey, documentID)))
	}
	if err := c.backend.DeleteKeys(keys); err != nil {
		return 0, err
	}

	c.logger.Debug("invalidated document cache entries", "documentID", documentID, "count", len(indexKeys))
	return len(indexKeys), nil
}

// InvalidateAll removes every cache entry and index row.
func (c *ChunkCache) InvalidateAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := c.backend.ScanKeys([]byte(cacheEntryPrefix))
	if err != nil {
		return 0, err
	}
	if err := c.backend.DropPrefix([]byte(cacheEntryPrefix), []byte(cacheDocPrefix)); err != nil {
		return 0, err
	}

	c.logger.Info("flushed chunk cache", "count", len(entries))
	return len(entries), nil
}
