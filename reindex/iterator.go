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


package reindex

import (
	"context"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"
)

const (
	// DefaultBatchSize is the default number of documents per batch
	DefaultBatchSize = 20
)

// DocumentIterator walks the completed documents of a store in batches.
type DocumentIterator struct {
	store     storage.DocumentStore
	batchSize int
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents handed to fn at once (DefaultBatchSize when <= 0)
func NewDocumentIterator(store storage.DocumentStore, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		store:     store,
		batchSize: batchSize,
	}
}

// Count returns the number of completed documents.
func (it *DocumentIterator) Count(ctx context.Context) (int, error) {
	docs, err := it.store.ListDocuments(ctx, core.DocumentCompleted)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ForEach calls fn for each batch of completed documents, oldest first.
// Iteration stops on the first error from fn. Context cancellation is
// checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.store.ListDocuments(ctx, core.DocumentCompleted)
	if err != nil {
		return err
	}

	for i := 0; i < len(docs); i += it.batchSize {
		end := min(i+it.batchSize, len(docs))
		if err := fn(docs[i:end]); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
