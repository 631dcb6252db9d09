package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) submissions(t *testing.T, n int) []Submission {
	t.Helper()
	subs := make([]Submission, n)
	for i := range subs {
		id := fmt.Sprintf("doc-%02d", i+1)
		subs[i] = Submission{DocumentID: id, Path: f.writeFile(t, id+".txt", fmt.Sprintf("Document %d.\n\n%s", i+1, sampleText))}
	}
	return subs
}

func (f *fixture) childStatuses(t *testing.T, parentID string) map[string]core.TaskStatus {
	t.Helper()
	children, err := f.tasks.Children(context.Background(), parentID)
	require.NoError(t, err)
	statuses := make(map[string]core.TaskStatus, len(children))
	for _, c := range children {
		statuses[c.Metadata[MetaDocumentID]] = c.Status
	}
	return statuses
}

func TestSubmitBatch_Completes(t *testing.T) {
	f := newFixture(t)
	subs := f.submissions(t, 7)

	parent, err := f.orch.SubmitBatch(context.Background(), subs, testRequest(t), "alice")
	require.NoError(t, err)
	assert.Equal(t, "7", parent.Metadata[MetaDocuments])
	f.wait(t, parent.ID)

	record := f.task(t, parent.ID)
	assert.Equal(t, core.TaskSuccess, record.Status)
	assert.Equal(t, 100.0, record.Progress)

	summary, err := ParseBatchSummary(record.Result)
	require.NoError(t, err)
	assert.Len(t, summary.Completed, 7)
	assert.Empty(t, summary.Failed)
	assert.Empty(t, summary.Pending)
	assert.Equal(t, "doc-01", summary.Completed[0], "documents run in submission order")

	statuses := f.childStatuses(t, parent.ID)
	require.Len(t, statuses, 7)
	for _, sub := range subs {
		assert.Equal(t, core.TaskSuccess, statuses[sub.DocumentID], sub.DocumentID)
		assert.Equal(t, core.DocumentCompleted, f.document(t, sub.DocumentID).Status)
	}
}

func TestSubmitBatch_PartialFailure(t *testing.T) {
	f := newFixture(t)
	subs := f.submissions(t, 3)
	subs[1].Path = subs[1].Path + ".missing"

	parent, err := f.orch.SubmitBatch(context.Background(), subs, testRequest(t), "")
	require.NoError(t, err)
	f.wait(t, parent.ID)

	record := f.task(t, parent.ID)
	assert.Equal(t, core.TaskSuccess, record.Status)
	summary, err := ParseBatchSummary(record.Result)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-01", "doc-03"}, summary.Completed)
	assert.Equal(t, []string{"doc-02"}, summary.Failed)

	statuses := f.childStatuses(t, parent.ID)
	assert.Equal(t, core.TaskFailure, statuses["doc-02"])
	assert.Equal(t, core.DocumentError, f.document(t, "doc-02").Status)
}

// cancelOnUpsert cancels the batch when the nth document reaches the index.
func cancelOnUpsert(f *fixture, n int32, terminate bool, batchID *atomic.Value, ready <-chan struct{}) {
	var calls atomic.Int32
	f.sink.UpsertFunc = func(ctx context.Context, _ string, _ []vectorindex.Entry) error {
		if calls.Add(1) != n {
			return nil
		}
		<-ready
		if _, err := f.orch.Cancel(context.Background(), batchID.Load().(string), terminate); err != nil {
			return err
		}
		if terminate {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
}

func TestSubmitBatch_CancelBetweenDocuments(t *testing.T) {
	f := newFixture(t)
	subs := f.submissions(t, 10)

	var batchID atomic.Value
	ready := make(chan struct{})
	cancelOnUpsert(f, 4, false, &batchID, ready)

	parent, err := f.orch.SubmitBatch(context.Background(), subs, testRequest(t), "")
	require.NoError(t, err)
	batchID.Store(parent.ID)
	close(ready)
	f.wait(t, parent.ID)

	assert.Equal(t, core.TaskCancelled, f.task(t, parent.ID).Status)
	for i, sub := range subs {
		want := core.DocumentPending
		if i < 4 {
			want = core.DocumentCompleted
		}
		assert.Equal(t, want, f.document(t, sub.DocumentID).Status, sub.DocumentID)
	}

	statuses := f.childStatuses(t, parent.ID)
	for i, sub := range subs {
		switch {
		case i < 3:
			assert.Equal(t, core.TaskSuccess, statuses[sub.DocumentID], sub.DocumentID)
		case i > 3:
			assert.Equal(t, core.TaskCancelled, statuses[sub.DocumentID], sub.DocumentID)
		}
	}
	assert.Len(t, f.sink.Calls(), 4)
}

func TestSubmitBatch_TerminateMidDocument(t *testing.T) {
	f := newFixture(t)
	subs := f.submissions(t, 10)

	var batchID atomic.Value
	ready := make(chan struct{})
	cancelOnUpsert(f, 5, true, &batchID, ready)

	parent, err := f.orch.SubmitBatch(context.Background(), subs, testRequest(t), "")
	require.NoError(t, err)
	batchID.Store(parent.ID)
	close(ready)
	f.wait(t, parent.ID)

	assert.Equal(t, core.TaskCancelled, f.task(t, parent.ID).Status)
	for i, sub := range subs {
		want := core.DocumentPending
		if i < 4 {
			want = core.DocumentCompleted
		}
		assert.Equal(t, want, f.document(t, sub.DocumentID).Status, sub.DocumentID)
	}

	n, err := f.store.CountChunks(context.Background(), "doc-05")
	require.NoError(t, err)
	assert.Zero(t, n, "interrupted document has no chunks")

	n, err = f.store.CountChunks(context.Background(), "doc-04")
	require.NoError(t, err)
	assert.Positive(t, n, "completed documents keep their chunks")
}

func TestSubmitBatch_RedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	parent, err := f.orch.SubmitBatch(context.Background(), f.submissions(t, 2), testRequest(t), "")
	require.NoError(t, err)
	f.wait(t, parent.ID)
	result := f.task(t, parent.ID).Result

	require.NoError(t, f.queue.Redeliver(parent.ID))
	f.wait(t, parent.ID)

	assert.Len(t, f.sink.Calls(), 2)
	assert.Equal(t, result, f.task(t, parent.ID).Result)
}
