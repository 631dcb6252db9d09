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


// Package splitter turns extracted text into bounded, overlapping chunks.
//
// Every strategy reduces to one shared primitive, MergeWithOverlap, which
// greedily packs pieces into chunks of at most ChunkSize and seeds each new
// chunk with a suffix of the previous one no longer than ChunkOverlap.
//
// # Strategies
//
//   - Recursive: tries separators in priority order (paragraph, line, space,
//     character) and recurses into pieces that are still too large
//   - FixedSize: splits on a single separator and merges directly
//   - Semantic: groups adjacent paragraphs whose embeddings stay similar,
//     falling back to Recursive when no embedder is available
//   - CustomSeparator: splits on caller supplied separators
//   - Markup: heading-aware splitting for markdown and HTML-derived text
//
// Use New to construct the splitter for a core.ChunkingRequest. Construction
// validates the request, so an invalid overlap is reported before any text
// is split.
//
// # Size bound
//
// A single atomic piece longer than ChunkSize that cannot be subdivided is
// emitted whole rather than truncated. Callers detect such chunks by comparing
// their length against ChunkSize.
//
// # Determinism
//
// Splitting is a pure function of the text and the request. The semantic
// strategy additionally depends on its embedder, which must itself be
// deterministic for the output to be reproducible.
package splitter
