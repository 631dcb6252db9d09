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


// Package sqlite implements storage.DocumentStore on an embedded SQLite
// database. Documents and their chunk sets live in two tables; a chunk set
// is always replaced inside a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"

	_ "modernc.org/sqlite"
)

const documentColumns = `id, status, error_message, segment_count, source_path, media_type, collection,
	parsing_started_at, parsing_completed_at, splitting_started_at, splitting_completed_at,
	indexing_started_at, indexing_completed_at, created_at, updated_at`

// Store implements storage.DocumentStore.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ storage.DocumentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// OpenStore opens or creates the database at path and applies pending migrations.
// The parent directory is created if missing.
func OpenStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", core.ErrConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "document-store")

	applied, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate document database: %w", err)
	}
	if applied > 0 {
		s.logger.Info("applied schema migrations", "count", applied, "path", path)
	}
	return s, nil
}

// dsn builds a connection string applying the pragmas to every pooled
// connection. Write transactions take the lock up front so a
// read-modify-write never fails to upgrade.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDocument inserts or replaces a document row. Chunks of an existing
// document are kept.
func (s *Store) SaveDocument(ctx context.Context, doc *core.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Status == "" {
		doc.Status = core.DocumentPending
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			segment_count = excluded.segment_count,
			source_path = excluded.source_path,
			media_type = excluded.media_type,
			collection = excluded.collection,
			parsing_started_at = excluded.parsing_started_at,
			parsing_completed_at = excluded.parsing_completed_at,
			splitting_started_at = excluded.splitting_started_at,
			splitting_completed_at = excluded.splitting_completed_at,
			indexing_started_at = excluded.indexing_started_at,
			indexing_completed_at = excluded.indexing_completed_at,
			updated_at = excluded.updated_at`,
		documentArgs(doc)...)
	if err != nil {
		return fmt.Errorf("%w: saving document %s: %w", core.ErrTransientIO, doc.ID, err)
	}
	return nil
}

// LoadDocument retrieves a document.
func (s *Store) LoadDocument(ctx context.Context, id string) (*core.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading document %s: %w", core.ErrTransientIO, id, err)
	}
	return doc, nil
}

// UpdateStatus applies fn to the stored document inside one transaction.
// The document ID and creation time cannot be changed by fn.
func (s *Store) UpdateStatus(ctx context.Context, id string, fn func(*core.Document) error) (*core.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransientIO, err)
	}
	defer tx.Rollback()

	doc, err := scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading document %s: %w", core.ErrTransientIO, id, err)
	}

	createdAt := doc.CreatedAt
	if err := fn(doc); err != nil {
		return nil, err
	}
	doc.ID = id
	doc.CreatedAt = createdAt
	doc.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET
			status = ?, error_message = ?, segment_count = ?, source_path = ?, media_type = ?, collection = ?,
			parsing_started_at = ?, parsing_completed_at = ?, splitting_started_at = ?, splitting_completed_at = ?,
			indexing_started_at = ?, indexing_completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(doc.Status), doc.ErrorMessage, doc.SegmentCount, doc.SourcePath, doc.MediaType, doc.Collection,
		micros(doc.ParsingStartedAt), micros(doc.ParsingCompletedAt),
		micros(doc.SplittingStartedAt), micros(doc.SplittingCompletedAt),
		micros(doc.IndexingStartedAt), micros(doc.IndexingCompletedAt),
		micros(doc.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("%w: updating document %s: %w", core.ErrTransientIO, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing document %s: %w", core.ErrTransientIO, id, err)
	}
	return doc, nil
}

// DeleteDocument removes the document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransientIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("%w: deleting chunks of %s: %w", core.ErrTransientIO, id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting document %s: %w", core.ErrTransientIO, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing delete of %s: %w", core.ErrTransientIO, id, err)
	}
	s.logger.Debug("deleted document", "documentID", id)
	return nil
}

// ListDocuments returns documents in status, or every document when status
// is empty, oldest first.
func (s *Store) ListDocuments(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %w", core.ErrTransientIO, err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning document: %w", core.ErrTransientIO, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ReplaceChunks deletes the existing chunk set of documentID and inserts
// chunks in one transaction. On any failure the previous set is kept.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []core.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransientIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("%w: clearing chunks of %s: %w", core.ErrTransientIO, documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, sequence_index, content, content_hash, word_count, token_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransientIO, err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("%w: chunk %d metadata: %w", storage.ErrSerializationFailed, c.SequenceIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, documentID, c.SequenceIndex, c.Content, c.ContentHash(),
			c.WordCount, c.TokenCount, meta); err != nil {
			return fmt.Errorf("%w: inserting chunk %d of %s: %w", core.ErrTransientIO, c.SequenceIndex, documentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing chunks of %s: %w", core.ErrTransientIO, documentID, err)
	}
	s.logger.Debug("replaced chunk set", "documentID", documentID, "count", len(chunks))
	return nil
}

// LoadChunks returns the persisted chunks of a document ordered by sequence index.
func (s *Store) LoadChunks(ctx context.Context, documentID string) ([]core.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_index, content, word_count, token_count, metadata
		FROM chunks WHERE document_id = ? ORDER BY sequence_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading chunks of %s: %w", core.ErrTransientIO, documentID, err)
	}
	defer rows.Close()

	var chunks []core.Chunk
	for rows.Next() {
		c := core.Chunk{DocumentID: documentID}
		var meta string
		if err := rows.Scan(&c.SequenceIndex, &c.Content, &c.WordCount, &c.TokenCount, &meta); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %w", core.ErrTransientIO, err)
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("%w: chunk %d metadata: %w", storage.ErrSerializationFailed, c.SequenceIndex, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of persisted chunks of a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks of %s: %w", core.ErrTransientIO, documentID, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.Document, error) {
	var (
		doc                  core.Document
		status               string
		parseStart, parseEnd int64
		splitStart, splitEnd int64
		indexStart, indexEnd int64
		createdAt, updatedAt int64
	)
	err := row.Scan(&doc.ID, &status, &doc.ErrorMessage, &doc.SegmentCount, &doc.SourcePath, &doc.MediaType,
		&doc.Collection, &parseStart, &parseEnd, &splitStart, &splitEnd, &indexStart, &indexEnd,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = core.DocumentStatus(status)
	doc.ParsingStartedAt = fromMicros(parseStart)
	doc.ParsingCompletedAt = fromMicros(parseEnd)
	doc.SplittingStartedAt = fromMicros(splitStart)
	doc.SplittingCompletedAt = fromMicros(splitEnd)
	doc.IndexingStartedAt = fromMicros(indexStart)
	doc.IndexingCompletedAt = fromMicros(indexEnd)
	doc.CreatedAt = fromMicros(createdAt)
	doc.UpdatedAt = fromMicros(updatedAt)
	return &doc, nil
}

func documentArgs(doc *core.Document) []any {
	return []any{
		doc.ID, string(doc.Status), doc.ErrorMessage, doc.SegmentCount, doc.SourcePath, doc.MediaType, doc.Collection,
		micros(doc.ParsingStartedAt), micros(doc.ParsingCompletedAt),
		micros(doc.SplittingStartedAt), micros(doc.SplittingCompletedAt),
		micros(doc.IndexingStartedAt), micros(doc.IndexingCompletedAt),
		micros(doc.CreatedAt), micros(doc.UpdatedAt),
	}
}

// micros stores a zero time as 0.
func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	return string(b), err
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
