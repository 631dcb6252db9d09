package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff(t *testing.T) {
	permanent := errors.New("bad input")

	tests := []struct {
		name       string
		failures   int
		err        error
		maxRetries int
		wantCalls  int
		wantRetry  []int
		wantErr    error
	}{
		{name: "first attempt succeeds", maxRetries: 3, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, err: transient("busy"), maxRetries: 3, wantCalls: 3, wantRetry: []int{1, 2}},
		{name: "retries exhausted", failures: 10, err: transient("busy"), maxRetries: 2, wantCalls: 3, wantRetry: []int{1, 2}, wantErr: core.ErrTransientIO},
		{name: "permanent error is not retried", failures: 10, err: permanent, maxRetries: 3, wantCalls: 1, wantErr: permanent},
		{name: "zero retries", failures: 10, err: transient("busy"), wantCalls: 1, wantErr: core.ErrTransientIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var retries []int
			err := RetryWithBackoff(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, tt.maxRetries, time.Millisecond, func(retry int, _ error) {
				retries = append(retries, retry)
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantRetry, retries)
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		cancel()
		return transient("busy")
	}, 5, time.Hour, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero values normalize", cfg: Config{}},
		{name: "negative group", cfg: Config{GroupSize: -1}, wantErr: true},
		{name: "negative retries", cfg: Config{MaxRetries: -1}, wantErr: true},
		{name: "negative delay", cfg: Config{BaseDelay: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, DefaultGroupSize, cfg.GroupSize)
			assert.Equal(t, DefaultCollection, cfg.Collection)
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := core.NewChunkingRequest(200, 20, core.StrategyCustomSeparator,
		core.WithCustomSeparators("##", "\n"), core.WithKeepSeparator(true))
	assert.NoError(t, err)

	payload := map[string]string{}
	assert.NoError(t, encodeRequest(req, payload))
	got, err := decodeRequest(payload)
	assert.NoError(t, err)
	assert.Equal(t, req, got)

	payload[keyChunkOverlap] = "500"
	_, err = decodeRequest(payload)
	assert.ErrorIs(t, err, core.ErrConfig)
}
