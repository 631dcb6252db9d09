package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *testClock) {
	t.Helper()
	_, repo, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	clock := &testClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	return NewManager(repo, WithClock(clock.Now)), clock
}

func TestManager_Create(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	record, err := m.Create(ctx, NewTask{Type: "process_document", OwnerID: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, core.TaskPending, record.Status)
	assert.Equal(t, core.DefaultMaxRetries, record.MaxRetries)
	assert.Zero(t, record.Progress)

	child, err := m.Create(ctx, NewTask{ID: "child-1", Type: "process_document", ParentID: record.ID, MaxRetries: 5})
	require.NoError(t, err)
	assert.Equal(t, "child-1", child.ID)
	assert.Equal(t, 5, child.MaxRetries)
	assert.Equal(t, record.ID, child.Metadata["parent_id"])

	_, err = m.Create(ctx, NewTask{})
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = m.Create(ctx, NewTask{Type: "x", MaxRetries: -1})
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = m.Create(ctx, NewTask{ID: "child-1", Type: "x"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestManager_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)

	running, err := m.MarkRunning(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskRunning, running.Status)
	assert.False(t, running.StartedAt.IsZero())

	progress, err := m.MarkProgress(ctx, record.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, 40.0, progress.Progress)

	done, err := m.MarkCompleted(ctx, record.ID, `{"chunks":3}`)
	require.NoError(t, err)
	assert.Equal(t, core.TaskSuccess, done.Status)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, `{"chunks":3}`, done.Result)
	assert.False(t, done.CompletedAt.IsZero())
	assert.Equal(t, running.StartedAt, done.StartedAt, "start time is stamped once")
}

func TestManager_MarkReceived(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)

	received, err := m.MarkReceived(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskReceived, received.Status)
	assert.True(t, received.StartedAt.IsZero(), "picking a job up does not start it")

	running, err := m.MarkRunning(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, running.StartedAt.IsZero())
}

func TestManager_ProgressMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "batch"})
	require.NoError(t, err)
	_, err = m.MarkRunning(ctx, record.ID)
	require.NoError(t, err)

	steps := []struct {
		pct  float64
		want float64
	}{
		{20, 20},
		{50, 50},
		{30, 50},
		{50, 50},
		{90, 90},
	}
	for _, step := range steps {
		got, err := m.MarkProgress(ctx, record.ID, step.pct)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Progress, "after reporting %v", step.pct)
	}

	for _, bad := range []float64{-1, 100.5} {
		_, err := m.MarkProgress(ctx, record.ID, bad)
		assert.ErrorIs(t, err, core.ErrInvalidProgress)
	}
}

func TestManager_TerminalIsImmutable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)

	failed, err := m.MarkFailed(ctx, record.ID, "disk full")
	require.NoError(t, err)
	completedAt := failed.CompletedAt

	tests := []struct {
		name string
		op   func() (*core.TaskRecord, error)
	}{
		{"running", func() (*core.TaskRecord, error) { return m.MarkRunning(ctx, record.ID) }},
		{"progress", func() (*core.TaskRecord, error) { return m.MarkProgress(ctx, record.ID, 10) }},
		{"completed", func() (*core.TaskRecord, error) { return m.MarkCompleted(ctx, record.ID, "ok") }},
		{"failed again", func() (*core.TaskRecord, error) { return m.MarkFailed(ctx, record.ID, "other") }},
		{"cancel", func() (*core.TaskRecord, error) { return m.Cancel(ctx, record.ID) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op()
			require.NoError(t, err)
			assert.Equal(t, core.TaskFailure, got.Status)
			assert.Equal(t, "disk full", got.Error)
			assert.Equal(t, completedAt, got.CompletedAt)
		})
	}
}

func TestManager_CancelIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)

	first, err := m.Cancel(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, first.Status)

	second, err := m.Cancel(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, second.Status)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)

	cancelled, err := m.IsCancelled(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = m.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_CancelTree(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	parent, err := m.Create(ctx, NewTask{Type: "batch"})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		child, err := m.Create(ctx, NewTask{Type: "process_document", ParentID: parent.ID})
		require.NoError(t, err)
		ids = append(ids, child.ID)
	}
	_, err = m.MarkCompleted(ctx, ids[0], "done")
	require.NoError(t, err)

	cancelled, err := m.CancelTree(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[1:], cancelled)

	first, err := m.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.TaskSuccess, first.Status, "finished child is left alone")

	p, err := m.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, p.Status)
}

func TestManager_RetryingAndMetadata(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "process_document", Metadata: map[string]string{"document_id": "d1"}})
	require.NoError(t, err)

	got, err := m.MarkRetrying(ctx, record.ID, 1, "timeout")
	require.NoError(t, err)
	assert.Equal(t, core.TaskRetrying, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "timeout", got.Error)

	got, err = m.Update(ctx, record.ID, Patch{Metadata: map[string]string{"file_path": "/a.txt"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"document_id": "d1", "file_path": "/a.txt"}, got.Metadata)
}

func TestManager_ListAndCount(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		_, err := m.Create(ctx, NewTask{Type: "process_document", OwnerID: owner})
		require.NoError(t, err)
	}

	records, err := m.List(ctx, ListFilter{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))

	n, err := m.Count(ctx, ListFilter{Type: "process_document", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestManager_CleanupOlderThan(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	old, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, old.ID, "")
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)

	recent, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)
	_, err = m.MarkFailed(ctx, recent.ID, "x")
	require.NoError(t, err)
	active, err := m.Create(ctx, NewTask{Type: "process_document"})
	require.NoError(t, err)

	n, err := m.CleanupOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Get(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = m.Get(ctx, active.ID)
	assert.NoError(t, err)

	_, err = m.CleanupOlderThan(ctx, -time.Hour)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestManager_ConcurrentProgress(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	record, err := m.Create(ctx, NewTask{Type: "batch"})
	require.NoError(t, err)
	_, err = m.MarkRunning(ctx, record.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(pct float64) {
			defer wg.Done()
			_, err := m.MarkProgress(ctx, record.ID, pct)
			assert.NoError(t, err)
		}(float64(i * 2))
	}
	wg.Wait()

	got, err := m.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)
}
