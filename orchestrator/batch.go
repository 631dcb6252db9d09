package orchestrator

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/queue"
)

// BatchSummary is the result recorded on a finished batch task.
type BatchSummary struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
	Pending   []string `json:"pending"`
}

// ParseBatchSummary decodes the result of a batch task.
func ParseBatchSummary(result string) (BatchSummary, error) {
	var s BatchSummary
	err := json.Unmarshal([]byte(result), &s)
	return s, err
}

func (o *Orchestrator) handleBatch(ctx context.Context, job queue.Job) error {
	parentID := job.ID
	logger := o.logger.With("taskID", parentID)

	if _, err := o.tasks.MarkReceived(ctx, parentID); err != nil {
		return err
	}
	req, err := decodeRequest(job.Payload)
	if err == nil {
		var ids []string
		if ids, err = decodeDocumentIDs(job.Payload[keyDocuments]); err == nil {
			return o.runBatch(ctx, parentID, ids, req)
		}
	}
	logger.Error("malformed batch job", "err", err)
	if _, markErr := o.tasks.MarkFailed(ctx, parentID, err.Error()); markErr != nil {
		return markErr
	}
	return err
}

func (o *Orchestrator) runBatch(ctx context.Context, parentID string, documentIDs []string, req core.ChunkingRequest) error {
	logger := o.logger.With("taskID", parentID)

	parent, err := o.tasks.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Status.IsTerminal() {
		logger.Info("batch already finished, skipping", "status", parent.Status)
		return nil
	}

	children, err := o.tasks.Children(ctx, parentID)
	if err != nil {
		return err
	}
	childFor := make(map[string]string, len(children))
	for _, child := range children {
		childFor[child.Metadata[MetaDocumentID]] = child.ID
	}

	if _, err := o.tasks.MarkRunning(ctx, parentID); err != nil {
		return err
	}

	var summary BatchSummary
	var finished int
	cancelled := false
	for group := range slices.Chunk(documentIDs, o.cfg.GroupSize) {
		logger.Debug("processing group", "size", len(group), "finished", finished, "total", len(documentIDs))
		for _, documentID := range group {
			if !cancelled {
				if cancelled, err = o.tasks.IsCancelled(ctx, parentID); err != nil {
					return err
				}
				if cancelled {
					logger.Info("cancellation observed", "remaining", len(documentIDs)-finished)
				}
			}
			if cancelled {
				summary.Pending = append(summary.Pending, documentID)
				continue
			}

			childID, ok := childFor[documentID]
			if !ok {
				logger.Warn("no child task for document", "documentID", documentID)
				summary.Pending = append(summary.Pending, documentID)
				continue
			}

			status, err := o.runDocument(ctx, childID, documentID, req)
			if err != nil {
				if ctx.Err() != nil && o.wasCancelled(ctx, parentID) {
					cancelled = true
					summary.Pending = append(summary.Pending, documentID)
					logger.Info("batch terminated", "documentID", documentID)
					continue
				}
				return err
			}

			switch status {
			case core.DocumentCompleted:
				summary.Completed = append(summary.Completed, documentID)
			case core.DocumentError:
				summary.Failed = append(summary.Failed, documentID)
			default:
				summary.Pending = append(summary.Pending, documentID)
				continue
			}
			finished++
			pct := float64(finished) * 100 / float64(len(documentIDs))
			if _, err := o.tasks.MarkProgress(ctx, parentID, pct); err != nil {
				return err
			}
		}
	}

	if cancelled {
		logger.Info("batch cancelled",
			"completed", len(summary.Completed),
			"failed", len(summary.Failed),
			"pending", len(summary.Pending))
		return nil
	}

	result, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if _, err := o.tasks.MarkCompleted(ctx, parentID, string(result)); err != nil {
		return err
	}
	logger.Info("batch completed", "completed", len(summary.Completed), "failed", len(summary.Failed))
	return nil
}
