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
	"fmt"
	"math"
)

// ValidateChunkingRequest validates a ChunkingRequest according to domain rules.
//
// Validation rules:
//   - ChunkSize must be positive
//   - ChunkOverlap must be in [0, ChunkSize)
//   - Strategy must be known
//   - CustomSeparators must be non-empty for StrategyCustomSeparator
//
// All failures wrap ErrConfig.
func ValidateChunkingRequest(req ChunkingRequest) error {
	if req.ChunkSize <= 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrNonPositiveChunkSize)
	}

	if req.ChunkOverlap < 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrNegativeOverlap)
	}

	if req.ChunkOverlap >= req.ChunkSize {
		return fmt.Errorf("%w: %w (overlap %d, size %d)", ErrConfig, ErrOverlapTooLarge,
			req.ChunkOverlap, req.ChunkSize)
	}

	if _, err := ParseStrategy(string(req.Strategy)); err != nil {
		return err
	}

	if req.Strategy == StrategyCustomSeparator {
		if err := ValidateSeparators(req.CustomSeparators); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSeparators checks that a custom separator list is usable.
func ValidateSeparators(seps []string) error {
	if len(seps) == 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrEmptySeparators)
	}
	for _, sep := range seps {
		if sep == "" {
			return fmt.Errorf("%w: %w: empty entry", ErrConfig, ErrEmptySeparators)
		}
	}
	return nil
}

// ValidateProgress checks that a progress percentage is within [0, 100].
func ValidateProgress(pct float64) error {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, pct)
	}
	return nil
}
