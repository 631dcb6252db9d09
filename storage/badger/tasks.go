package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"
)

// TaskRepository implements storage.TaskRepository for BadgerDB.
//
// Records live under their ID. Two index families support listing: a
// creation time index for newest-first scans and a parent index for batch
// children. Index keys carry the record ID so no value lookup is needed.
type TaskRepository struct {
	backend *Backend
	locks   *keyedMutex
	logger  *slog.Logger
}

var _ storage.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(backend *Backend) *TaskRepository {
	return &TaskRepository{
		backend: backend,
		locks:   newKeyedMutex(),
		logger:  backend.logger.With("store", "tasks"),
	}
}

// Create stores a new record.
func (r *TaskRepository) Create(ctx context.Context, record *core.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: task record requires an ID", storage.ErrInvalidQuery)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	unlock := r.locks.Lock(record.ID)
	defer unlock()

	value := storage.MarshalTaskRecord(record)
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		key := makeTaskKey(record.ID)
		if _, err := tx.Get(key); err == nil {
			return fmt.Errorf("%w: task %s", storage.ErrDuplicateKey, record.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		if err := r.writeIndexes(tx, record); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Get retrieves a record by ID.
func (r *TaskRepository) Get(ctx context.Context, id string) (*core.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *core.TaskRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = r.readTaskRecord(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: task %s", storage.ErrNotFound, id)
	}
	return record, nil
}

// Update applies fn to a copy of the stored record and persists the result.
// Calls for the same ID are serialized.
func (r *TaskRepository) Update(ctx context.Context, id string, fn func(*core.TaskRecord) error) (*core.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	var result *core.TaskRecord
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		current, err := r.readTaskRecord(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: task %s", storage.ErrNotFound, id)
		}

		updated := cloneTaskRecord(current)
		if err := fn(updated); err != nil {
			if errors.Is(err, storage.ErrUnchanged) {
				result = current
			}
			return err
		}
		updated.ID = current.ID

		if !updated.CreatedAt.Equal(current.CreatedAt) || updated.ParentID != current.ParentID {
			for _, key := range indexKeys(current) {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			if err := r.writeIndexes(tx, updated); err != nil {
				return err
			}
		}
		if err := tx.Set(makeTaskKey(id), storage.MarshalTaskRecord(updated)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// List returns matching records, newest first.
func (r *TaskRepository) List(ctx context.Context, filter storage.TaskFilter) ([]*core.TaskRecord, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", storage.ErrInvalidQuery)
	}

	var results []*core.TaskRecord
	skipped := 0
	err := r.scanNewestFirst(ctx, filter, func(record *core.TaskRecord) bool {
		if skipped < filter.Offset {
			skipped++
			return true
		}
		results = append(results, record)
		return filter.Limit == 0 || len(results) < filter.Limit
	})
	return results, err
}

// Count returns the number of matching records, ignoring Limit and Offset.
func (r *TaskRepository) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	count := 0
	err := r.scanNewestFirst(ctx, filter, func(*core.TaskRecord) bool {
		count++
		return true
	})
	return count, err
}

// Children returns the records whose ParentID is parentID, oldest first.
func (r *TaskRepository) Children(ctx context.Context, parentID string) ([]*core.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parentID == "" {
		return nil, nil
	}

	var results []*core.TaskRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialTaskParentKey(parentID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			id := string(key[len(prefix)+timestampKeyLength:])
			record, err := r.readTaskRecord(tx, id)
			if err != nil {
				return err
			}
			if record != nil {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	return results, err
}

// DeleteCompletedBefore removes terminal records completed before cutoff.
func (r *TaskRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	removed := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskRecordPrefix)

		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var record *core.TaskRecord
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalTaskRecord(val)
				return err
			}); err != nil {
				r.logger.Warn("skipping unreadable task record", "key", string(iter.Item().Key()), "err", err)
				continue
			}
			if !record.Status.IsTerminal() || record.CompletedAt.IsZero() || !record.CompletedAt.Before(cutoff) {
				continue
			}
			keys = append(keys, makeTaskKey(record.ID))
			keys = append(keys, indexKeys(record)...)
			removed++
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}
	if err := r.backend.DeleteKeys(keys); err != nil {
		return 0, err
	}
	return removed, nil
}

// scanNewestFirst walks the creation index backwards from filter.To and
// calls visit for every record matching filter until visit returns false.
func (r *TaskRepository) scanNewestFirst(ctx context.Context, filter storage.TaskFilter, visit func(*core.TaskRecord) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse seek lands on the largest key not greater than startKey.
		// Keys at exactly filter.To carry an ID suffix and sort after it.
		var startKey []byte
		if filter.To.IsZero() {
			startKey = append(makePartialTaskCreatedKey(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)), 0xff)
		} else {
			startKey = makePartialTaskCreatedKey(filter.To)
		}
		var floorKey []byte
		if !filter.From.IsZero() {
			floorKey = makePartialTaskCreatedKey(filter.From)
		}
		prefix := []byte(taskCreatedPrefix)

		for iter.Seek(startKey); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			if floorKey != nil && bytes.Compare(key, floorKey) < 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			id := string(key[len(prefix)+timestampKeyLength:])
			record, err := r.readTaskRecord(tx, id)
			if err != nil {
				return err
			}
			if record == nil || !matchesFilter(record, filter) {
				continue
			}
			if !visit(record) {
				break
			}
		}
		return nil
	}, false)
}

func (r *TaskRepository) writeIndexes(tx *badger.Txn, record *core.TaskRecord) error {
	for _, key := range indexKeys(record) {
		if err := tx.Set(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// readTaskRecord reads a record within a transaction. Returns nil if it doesn't exist.
func (r *TaskRepository) readTaskRecord(tx *badger.Txn, id string) (*core.TaskRecord, error) {
	item, err := tx.Get(makeTaskKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var record *core.TaskRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalTaskRecord(val)
		return err
	})
	return record, err
}

func indexKeys(record *core.TaskRecord) [][]byte {
	keys := [][]byte{makeTaskCreatedKey(record.CreatedAt, record.ID)}
	if record.ParentID != "" {
		keys = append(keys, makeTaskParentKey(record.ParentID, record.CreatedAt, record.ID))
	}
	return keys
}

func matchesFilter(record *core.TaskRecord, filter storage.TaskFilter) bool {
	switch {
	case filter.Type != "" && record.Type != filter.Type:
		return false
	case filter.Status != "" && record.Status != filter.Status:
		return false
	case filter.OwnerID != "" && record.OwnerID != filter.OwnerID:
		return false
	case filter.ParentID != "" && record.ParentID != filter.ParentID:
		return false
	}
	return true
}

func cloneTaskRecord(record *core.TaskRecord) *core.TaskRecord {
	clone := *record
	clone.Metadata = maps.Clone(record.Metadata)
	return &clone
}

