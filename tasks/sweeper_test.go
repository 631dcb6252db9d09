package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper(t *testing.T) {
	m, _ := newTestManager(t)

	tests := []struct {
		name      string
		schedule  string
		retention time.Duration
		wantErr   bool
	}{
		{"defaults", "", 0, false},
		{"hourly", "@hourly", time.Hour, false},
		{"five fields", "0 3 * * *", time.Hour, false},
		{"garbage", "whenever", time.Hour, true},
		{"negative retention", "", -time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSweeper(m, tt.schedule, tt.retention, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, s.schedule)
			assert.Positive(t, s.retention)
		})
	}
}

func TestSweeper_StartStop(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := NewSweeper(m, "", 0, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestSweeper_RunOnce(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	record, err := m.Create(ctx, NewTask{Type: "x"})
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, record.ID, "")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	s, err := NewSweeper(m, "@hourly", time.Hour, nil)
	require.NoError(t, err)
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
