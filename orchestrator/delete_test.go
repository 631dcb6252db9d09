package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ingest submits one document per content and waits for each to complete.
func (f *fixture) ingest(t *testing.T, contents map[string]string) {
	t.Helper()
	for id, content := range contents {
		record, err := f.orch.SubmitDocument(context.Background(),
			Submission{DocumentID: id, Path: f.writeFile(t, id+".txt", content)}, testRequest(t), "")
		require.NoError(t, err)
		f.wait(t, record.ID)
		require.Equal(t, core.DocumentCompleted, f.document(t, id).Status)
	}
}

func TestSubmitDeleteBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, map[string]string{
		"doc-1": sampleText,
		"doc-2": "Forests are home to many animals.\n\nRain falls often there.",
		"doc-3": "Cities grow along rivers and coasts.",
	})
	require.Positive(t, f.sink.Stored(DefaultCollection, "doc-1"))

	record, err := f.orch.SubmitDeleteBatch(ctx, []string{"doc-1", "doc-2", "ghost", "doc-1", ""}, "alice")
	require.NoError(t, err)
	assert.Equal(t, TypeDeleteBatch, record.Type)
	assert.Equal(t, "3", record.Metadata[MetaDocuments])
	f.wait(t, record.ID)

	task := f.task(t, record.ID)
	require.Equal(t, core.TaskSuccess, task.Status)
	assert.Equal(t, 100.0, task.Progress)
	summary, err := ParseDeleteSummary(task.Result)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, summary.Deleted)
	assert.Equal(t, []string{"ghost"}, summary.Missing)
	assert.Empty(t, summary.Failed)
	assert.Empty(t, summary.Pending)

	for _, id := range []string{"doc-1", "doc-2"} {
		_, err := f.store.LoadDocument(ctx, id)
		assert.ErrorIs(t, err, storage.ErrNotFound, id)
		n, err := f.store.CountChunks(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n, id)
		assert.Zero(t, f.sink.Stored(DefaultCollection, id), id)

		n, err = f.chunker.Invalidate(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n, "cache entries of %s are gone", id)
	}

	// Untouched document keeps everything
	assert.Equal(t, core.DocumentCompleted, f.document(t, "doc-3").Status)
	assert.Positive(t, f.sink.Stored(DefaultCollection, "doc-3"))
}

func TestSubmitDeleteBatch_Validation(t *testing.T) {
	f := newFixture(t)

	for _, ids := range [][]string{nil, {}, {""}} {
		_, err := f.orch.SubmitDeleteBatch(context.Background(), ids, "")
		assert.ErrorIs(t, err, core.ErrConfig)
	}
}

func TestSubmitDeleteBatch_SkipsDocumentInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveDocument(ctx, &core.Document{
		ID: "busy", Status: core.DocumentParsing, SourcePath: f.writeFile(t, "busy.txt", sampleText),
	}))

	record, err := f.orch.SubmitDeleteBatch(ctx, []string{"busy"}, "")
	require.NoError(t, err)
	f.wait(t, record.ID)

	summary, err := ParseDeleteSummary(f.task(t, record.ID).Result)
	require.NoError(t, err)
	assert.Equal(t, []string{"busy"}, summary.Failed)
	assert.Equal(t, core.DocumentParsing, f.document(t, "busy").Status)
	assert.Empty(t, f.sink.Deletions())
}

func TestSubmitDeleteBatch_RetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, map[string]string{"doc-1": sampleText})

	var calls atomic.Int32
	f.sink.DeleteFunc = func(context.Context, string, string) (int, error) {
		if calls.Add(1) == 1 {
			return 0, transient("index unavailable")
		}
		return 3, nil
	}

	record, err := f.orch.SubmitDeleteBatch(ctx, []string{"doc-1"}, "")
	require.NoError(t, err)
	f.wait(t, record.ID)

	summary, err := ParseDeleteSummary(f.task(t, record.ID).Result)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, summary.Deleted)
	assert.EqualValues(t, 2, calls.Load())
	_, err = f.store.LoadDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmitDeleteBatch_CancelBetweenDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, map[string]string{
		"doc-1": sampleText,
		"doc-2": "Forests are home to many animals.",
		"doc-3": "Cities grow along rivers and coasts.",
	})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f.sink.DeleteFunc = func(context.Context, string, string) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return 0, nil
	}

	record, err := f.orch.SubmitDeleteBatch(ctx, []string{"doc-1", "doc-2", "doc-3"}, "")
	require.NoError(t, err)
	<-started
	_, err = f.orch.Cancel(ctx, record.ID, false)
	require.NoError(t, err)
	close(release)
	f.wait(t, record.ID)

	assert.Equal(t, core.TaskCancelled, f.task(t, record.ID).Status)
	_, err = f.store.LoadDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, core.DocumentCompleted, f.document(t, "doc-2").Status)
	assert.Equal(t, core.DocumentCompleted, f.document(t, "doc-3").Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunDocument_DeletedDocumentFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, map[string]string{"doc-1": sampleText})

	record, err := f.tasks.Create(ctx, tasks.NewTask{Type: TypeDocument})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteDocument(ctx, "doc-1"))

	status, err := f.orch.runDocument(ctx, record.ID, "doc-1", testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, core.DocumentError, status)
	task := f.task(t, record.ID)
	assert.Equal(t, core.TaskFailure, task.Status)
	assert.Contains(t, task.Error, "no longer exists")
}
