package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/docstate"
	"github.com/poiesic/docket/queue"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/vectorindex"
)

// Task progress reported as a document moves through its phases.
const (
	progressSplit   = 40.0
	progressIndexed = 70.0
)

func (o *Orchestrator) handleDocument(ctx context.Context, job queue.Job) error {
	if _, err := o.tasks.MarkReceived(ctx, job.ID); err != nil {
		return err
	}
	req, err := decodeRequest(job.Payload)
	if err != nil {
		if _, markErr := o.tasks.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	_, err = o.runDocument(ctx, job.ID, job.Payload[keyDocumentID], req)
	if err != nil && ctx.Err() != nil && o.wasCancelled(ctx, job.ID) {
		return nil
	}
	return err
}

// runDocument takes one document through the pipeline under task taskID
// and returns the status the document ended in. A non-nil error means the
// worker itself failed and the job should be delivered again; outcomes of
// the document, failures included, are recorded and reported as nil.
func (o *Orchestrator) runDocument(ctx context.Context, taskID, documentID string, req core.ChunkingRequest) (core.DocumentStatus, error) {
	logger := o.logger.With("taskID", taskID, "documentID", documentID)

	doc, err := o.docs.Get(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("document no longer exists")
		if _, err := o.tasks.MarkFailed(ctx, taskID, "document "+documentID+" no longer exists"); err != nil {
			return "", err
		}
		return core.DocumentError, nil
	}
	if err != nil {
		return "", err
	}
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return "", err
	}

	switch {
	case doc.Status == core.DocumentCompleted:
		logger.Info("document already completed, skipping")
		if _, err := o.tasks.MarkCompleted(ctx, taskID, segmentsResult(doc)); err != nil {
			return "", err
		}
		return doc.Status, nil
	case doc.Status == core.DocumentError:
		logger.Info("document failed earlier and needs an explicit retry")
		return doc.Status, nil
	case task.Status == core.TaskCancelled:
		logger.Info("task cancelled before start")
		return o.resetDocument(ctx, documentID)
	case docstate.IsMidFlight(doc.Status):
		if _, err := o.docs.Reset(ctx, documentID); err != nil {
			return "", err
		}
	}

	err = RetryWithBackoff(ctx, func() error {
		return o.processDocument(ctx, taskID, documentID, req)
	}, task.MaxRetries, o.cfg.BaseDelay, func(retry int, cause error) {
		if _, err := o.docs.Reset(ctx, documentID); err != nil {
			logger.Warn("failed to reset document before retry", "err", err)
		}
		if _, err := o.tasks.MarkRetrying(ctx, taskID, retry, cause.Error()); err != nil {
			logger.Warn("failed to record retry", "err", err)
		}
		o.metrics.TaskRetried(task.Type)
	})

	switch {
	case err == nil:
		doc, err := o.docs.Get(ctx, documentID)
		if err != nil {
			return "", err
		}
		if _, err := o.tasks.MarkCompleted(ctx, taskID, segmentsResult(doc)); err != nil {
			return "", err
		}
		logger.Info("document completed", "segments", doc.SegmentCount)
		return doc.Status, nil

	case errors.Is(err, core.ErrCancelled):
		logger.Info("cancellation observed")
		return o.resetDocument(ctx, documentID)

	case ctx.Err() != nil:
		// The job was interrupted. Roll back so a later delivery starts clean.
		if _, resetErr := o.resetDocument(ctx, documentID); resetErr != nil {
			logger.Error("failed to reset interrupted document", "err", resetErr)
		}
		return core.DocumentPending, ctx.Err()
	}

	message := err.Error()
	if _, failErr := o.docs.Fail(ctx, documentID, message); failErr != nil {
		return "", fmt.Errorf("recording document failure: %w", failErr)
	}
	if _, failErr := o.tasks.MarkFailed(ctx, taskID, message); failErr != nil {
		return "", failErr
	}
	logger.Warn("document failed", "code", core.ErrorCode(err), "error", message)
	return core.DocumentError, nil
}

// processDocument is one attempt at chunking, indexing and persisting a
// pending document. Chunks are written to the store only after the index
// accepted them, so a failed attempt leaves the last committed set in place.
func (o *Orchestrator) processDocument(ctx context.Context, taskID, documentID string, req core.ChunkingRequest) error {
	cancelled, err := o.tasks.IsCancelled(ctx, taskID)
	if err != nil {
		return err
	}
	if cancelled {
		return core.ErrCancelled
	}
	if _, err := o.tasks.MarkRunning(ctx, taskID); err != nil {
		return err
	}

	if _, err := o.docs.Begin(ctx, documentID); err != nil {
		return err
	}
	doc, err := o.docs.Advance(ctx, documentID, core.DocumentParsing)
	if err != nil {
		return err
	}
	chunks, err := o.chunker.ChunkDocument(ctx, doc, req, func(ctx context.Context) error {
		_, err := o.docs.Advance(ctx, documentID, core.DocumentSplitting)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := o.tasks.MarkProgress(ctx, taskID, progressSplit); err != nil {
		return err
	}
	entries := vectorindex.EntriesFromChunks(chunks)

	if _, err := o.docs.Advance(ctx, documentID, core.DocumentIndexing); err != nil {
		return err
	}
	if err := o.sink.Upsert(ctx, o.collection(doc), entries); err != nil {
		return err
	}
	if _, err := o.tasks.MarkProgress(ctx, taskID, progressIndexed); err != nil {
		return err
	}
	if err := o.store.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return err
	}
	_, err = o.docs.Complete(ctx, documentID)
	return err
}

func (o *Orchestrator) resetDocument(ctx context.Context, documentID string) (core.DocumentStatus, error) {
	doc, err := o.docs.Reset(context.WithoutCancel(ctx), documentID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

func (o *Orchestrator) collection(doc *core.Document) string {
	if doc.Collection != "" {
		return doc.Collection
	}
	return o.cfg.Collection
}

func segmentsResult(doc *core.Document) string {
	return fmt.Sprintf("%d segments", doc.SegmentCount)
}
