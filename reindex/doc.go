// Package reindex delivers the persisted chunks of completed documents to
// the vector index again, for example after switching embedding models.
//
// Documents are visited in batches. Chunks are read from the document store
// and never re-extracted, so a reindex does not depend on the source files
// still being present.
package reindex
