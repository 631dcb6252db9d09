package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/docstate"
	"github.com/poiesic/docket/queue"
	"github.com/poiesic/docket/storage"
	"github.com/poiesic/docket/tasks"
)

// DeleteSummary is the result recorded on a finished delete task.
type DeleteSummary struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
	Failed  []string `json:"failed"`
	Pending []string `json:"pending"`
}

// ParseDeleteSummary decodes the result of a delete task.
func ParseDeleteSummary(result string) (DeleteSummary, error) {
	var s DeleteSummary
	err := json.Unmarshal([]byte(result), &s)
	return s, err
}

// SubmitDeleteBatch enqueues one job that removes documentIDs from the
// vector index, the chunk cache and the document store. Duplicate IDs are
// dropped. Documents that are being processed are left alone and reported
// as failed.
func (o *Orchestrator) SubmitDeleteBatch(ctx context.Context, documentIDs []string, ownerID string) (*core.TaskRecord, error) {
	seen := make(map[string]bool, len(documentIDs))
	ids := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no documents to delete", core.ErrConfig)
	}

	task, err := o.tasks.Create(ctx, tasks.NewTask{
		Type:       TypeDeleteBatch,
		OwnerID:    ownerID,
		MaxRetries: o.cfg.MaxRetries,
		Metadata:   map[string]string{MetaDocuments: strconv.Itoa(len(ids))},
	})
	if err != nil {
		return nil, err
	}

	payload := make(map[string]string, 1)
	if payload[keyDocuments], err = encodeDocumentIDs(ids); err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, task.ID, TypeDeleteBatch, payload); err != nil {
		return nil, err
	}
	o.logger.Info("delete submitted", "taskID", task.ID, "documents", len(ids))
	return task, nil
}

func (o *Orchestrator) handleDeleteBatch(ctx context.Context, job queue.Job) error {
	if _, err := o.tasks.MarkReceived(ctx, job.ID); err != nil {
		return err
	}
	ids, err := decodeDocumentIDs(job.Payload[keyDocuments])
	if err != nil {
		o.logger.Error("malformed delete job", "taskID", job.ID, "err", err)
		if _, markErr := o.tasks.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	err = o.runDelete(ctx, job.ID, ids)
	if err != nil && ctx.Err() != nil && o.wasCancelled(ctx, job.ID) {
		return nil
	}
	return err
}

func (o *Orchestrator) runDelete(ctx context.Context, taskID string, documentIDs []string) error {
	logger := o.logger.With("taskID", taskID)

	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		logger.Info("delete already finished, skipping", "status", task.Status)
		return nil
	}
	if _, err := o.tasks.MarkRunning(ctx, taskID); err != nil {
		return err
	}

	var summary DeleteSummary
	cancelled := false
	for i, documentID := range documentIDs {
		if !cancelled {
			if cancelled, err = o.tasks.IsCancelled(ctx, taskID); err != nil {
				return err
			}
			if cancelled {
				logger.Info("cancellation observed", "remaining", len(documentIDs)-i)
			}
		}
		if cancelled {
			summary.Pending = append(summary.Pending, documentID)
			continue
		}

		found, err := o.deleteDocument(ctx, task, documentID)
		switch {
		case err == nil && found:
			summary.Deleted = append(summary.Deleted, documentID)
		case err == nil:
			summary.Missing = append(summary.Missing, documentID)
		case ctx.Err() != nil:
			return err
		default:
			logger.Warn("document delete failed", "documentID", documentID, "code", core.ErrorCode(err), "error", err)
			summary.Failed = append(summary.Failed, documentID)
		}

		pct := float64(i+1) * 100 / float64(len(documentIDs))
		if _, err := o.tasks.MarkProgress(ctx, taskID, pct); err != nil {
			return err
		}
	}

	if cancelled {
		logger.Info("delete cancelled",
			"deleted", len(summary.Deleted),
			"failed", len(summary.Failed),
			"pending", len(summary.Pending))
		return nil
	}

	result, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if _, err := o.tasks.MarkCompleted(ctx, taskID, string(result)); err != nil {
		return err
	}
	logger.Info("delete completed",
		"deleted", len(summary.Deleted),
		"missing", len(summary.Missing),
		"failed", len(summary.Failed))
	return nil
}

// deleteDocument removes one document from the index, the cache and the
// store, in that order, so an interrupted attempt can be repeated. It
// reports false when the document does not exist.
func (o *Orchestrator) deleteDocument(ctx context.Context, task *core.TaskRecord, documentID string) (bool, error) {
	doc, err := o.store.LoadDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if docstate.IsMidFlight(doc.Status) {
		return false, fmt.Errorf("%w: document %s is %s", core.ErrConfig, documentID, doc.Status)
	}

	logger := o.logger.With("taskID", task.ID, "documentID", documentID)
	err = RetryWithBackoff(ctx, func() error {
		removed, err := o.sink.Delete(ctx, o.collection(doc), documentID)
		if err != nil {
			return err
		}
		invalidated, err := o.chunker.Invalidate(ctx, documentID)
		if err != nil {
			return err
		}
		if err := o.store.DeleteDocument(ctx, documentID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		logger.Debug("document deleted", "entries", removed, "cacheEntries", invalidated)
		return nil
	}, task.MaxRetries, o.cfg.BaseDelay, func(retry int, cause error) {
		logger.Warn("retrying document delete", "retry", retry, "error", cause)
		o.metrics.TaskRetried(task.Type)
	})
	return err == nil, err
}
