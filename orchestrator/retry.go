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


package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/docket/core"
)

// RetryWithBackoff runs operation until it succeeds, fails with an error
// that is not retryable, or has been retried maxRetries times.
// The delay before retry n is baseDelay * 2^(n-1). onRetry, if set, is
// called with the retry number and cause before each wait.
// Returns the error from the last attempt.
func RetryWithBackoff(ctx context.Context, operation func() error, maxRetries int, baseDelay time.Duration, onRetry func(retry int, cause error)) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				slog.Debug("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		if !core.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			slog.Warn("retries exhausted", "attempts", attempt+1, "error", lastErr)
			break
		}

		slog.Debug("operation failed, will retry", "attempt", attempt+1, "maxRetries", maxRetries, "error", lastErr)
		if onRetry != nil {
			onRetry(attempt+1, lastErr)
		}

		delay := baseDelay << attempt
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
