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


// Package storage defines the persistence contracts of the ingestion pipeline.
//
// Three stores back the pipeline:
//
//   - ChunkCache: splitter output keyed by source fingerprint and chunking
//     parameters, so unchanged files are not split twice
//   - TaskRepository: the ledger of background jobs
//   - DocumentStore: documents, their status and their committed chunk sets
//
// The badger subpackage implements ChunkCache and TaskRepository on an
// embedded BadgerDB. The sqlite subpackage implements DocumentStore on a
// relational database so chunk sets can be replaced atomically.
//
// # Serialization
//
// Cache entries and task records are stored in MUS binary format using the
// serializers in core. MarshalCacheEntry and friends wrap them and report
// decoding problems as ErrSerializationFailed or ErrTruncatedData, which the
// cache treats as a miss.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/var/lib/docket/kv", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	cache := badger.NewChunkCache(backend)
//	tasks := badger.NewTaskRepository(backend)
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access from
// multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
