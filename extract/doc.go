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


// Package extract converts source files into raw text plus extraction metadata.
//
// An Extractor normalizes the declared media type of a file (falling back to
// the file extension and then to content sniffing) and dispatches to a
// format-specific reader:
//
//   - text/plain, text/markdown, logs: read as UTF-8
//   - application/json: re-indented for readability
//   - text/csv: one "column: value" block per row (langchaingo CSV loader)
//   - application/pdf: one block per page (langchaingo PDF loader)
//   - DOCX, PPTX, XLSX: text pulled from the Office Open XML parts
//   - text/html: headings and blocks rendered as markdown-like text (goquery)
//
// When a reader fails, or when no reader handles the media type, the
// extractor falls back once to best-effort decoding of the raw bytes. The
// fallback is logged at Warn level and flagged with "degraded" in the result
// metadata. Only if that also produces nothing does Extract return an error
// wrapping core.ErrExtraction.
package extract
