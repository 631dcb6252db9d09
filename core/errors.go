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


package core

import (
	"context"
	"errors"
)

// Error taxonomy. Every pipeline failure wraps exactly one of these.
var (
	// ErrConfig indicates an invalid request or configuration. Never retried.
	ErrConfig = errors.New("config error")

	// ErrExtraction indicates content could not be read even after the raw text fallback.
	ErrExtraction = errors.New("extraction error")

	// ErrTransientIO indicates a persistence or queue failure that may succeed on retry.
	ErrTransientIO = errors.New("transient i/o error")

	// ErrCancelled indicates cooperative cancellation was observed.
	ErrCancelled = errors.New("cancelled")
)

// Validation causes
var (
	// ErrNonPositiveChunkSize indicates chunk_size <= 0.
	ErrNonPositiveChunkSize = errors.New("chunk size must be greater than 0")

	// ErrNegativeOverlap indicates chunk_overlap < 0.
	ErrNegativeOverlap = errors.New("chunk overlap cannot be negative")

	// ErrOverlapTooLarge indicates chunk_overlap >= chunk_size.
	ErrOverlapTooLarge = errors.New("chunk overlap must be smaller than chunk size")

	// ErrEmptySeparators indicates the custom separator strategy was requested without separators.
	ErrEmptySeparators = errors.New("custom separators cannot be empty")

	// ErrUnknownStrategy indicates an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown chunking strategy")

	// ErrInvalidProgress indicates a progress value outside [0, 100].
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrInvalidTransition indicates a document status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrErrorMessageRequired indicates a transition to error without a message.
	ErrErrorMessageRequired = errors.New("error message is required")
)

// Structured error codes surfaced to API callers.
const (
	CodeConfig      = "config_error"
	CodeExtraction  = "extraction_error"
	CodeTransientIO = "transient_io_error"
	CodeCancelled   = "cancelled"
	CodeInternal    = "internal_error"
)

// ErrorCode maps an error to its structured code. Nil maps to the empty string.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return CodeConfig
	case errors.Is(err, ErrExtraction):
		return CodeExtraction
	case errors.Is(err, ErrTransientIO):
		return CodeTransientIO
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether the orchestrator should retry after err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
