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


// Package tasks keeps the ledger of background jobs.
//
// A Manager creates, updates and queries core.TaskRecord values through a
// storage.TaskRepository. It enforces the record lifecycle: terminal
// statuses never change, progress never moves backwards while a task is
// active, and completion time is stamped exactly once.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/metrics"
	"github.com/poiesic/docket/storage"
)

// Patch lists the fields of an update. Nil fields are left alone and
// Metadata entries are merged into the existing map.
type Patch struct {
	Status   *core.TaskStatus
	Progress *float64
	Retries  *int
	Result   *string
	Error    *string
	Metadata map[string]string
}

// NewTask describes a record to create.
type NewTask struct {
	ID         string // Assigned with uuid when empty
	Type       string
	OwnerID    string
	ParentID   string
	MaxRetries int // DefaultMaxRetries when zero
	Metadata   map[string]string
}

// ListFilter selects records for List and Count.
type ListFilter = storage.TaskFilter

// Manager implements the task lifecycle.
type Manager struct {
	repo    storage.TaskRepository
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics counts tasks reaching a terminal status.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over repo.
func NewManager(repo storage.TaskRepository, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "tasks")
	return m
}

// Create stores a new pending record.
func (m *Manager) Create(ctx context.Context, nt NewTask) (*core.TaskRecord, error) {
	if nt.Type == "" {
		return nil, fmt.Errorf("%w: task type is required", core.ErrConfig)
	}
	if nt.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries cannot be negative", core.ErrConfig)
	}

	now := m.now()
	record := &core.TaskRecord{
		ID:         nt.ID,
		Type:       nt.Type,
		Status:     core.TaskPending,
		MaxRetries: nt.MaxRetries,
		OwnerID:    nt.OwnerID,
		ParentID:   nt.ParentID,
		Metadata:   maps.Clone(nt.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.MaxRetries == 0 {
		record.MaxRetries = core.DefaultMaxRetries
	}
	if nt.ParentID != "" {
		if record.Metadata == nil {
			record.Metadata = make(map[string]string, 1)
		}
		record.Metadata["parent_id"] = nt.ParentID
	}

	if err := m.repo.Create(ctx, record); err != nil {
		return nil, m.wrap(err, "creating task")
	}
	m.logger.Debug("task created", "taskID", record.ID, "type", record.Type, "parentID", record.ParentID)
	return record, nil
}

// Get retrieves a record. Returns storage.ErrNotFound if it doesn't exist.
func (m *Manager) Get(ctx context.Context, id string) (*core.TaskRecord, error) {
	record, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, m.wrap(err, "loading task")
	}
	return record, nil
}

// List returns matching records, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*core.TaskRecord, error) {
	records, err := m.repo.List(ctx, filter)
	if err != nil {
		return nil, m.wrap(err, "listing tasks")
	}
	return records, nil
}

// Count returns the number of matching records, ignoring pagination.
func (m *Manager) Count(ctx context.Context, filter ListFilter) (int, error) {
	n, err := m.repo.Count(ctx, filter)
	if err != nil {
		return 0, m.wrap(err, "counting tasks")
	}
	return n, nil
}

// Children returns the records spawned by parentID, oldest first.
func (m *Manager) Children(ctx context.Context, parentID string) ([]*core.TaskRecord, error) {
	records, err := m.repo.Children(ctx, parentID)
	if err != nil {
		return nil, m.wrap(err, "listing child tasks")
	}
	return records, nil
}

// Update applies patch to the record.
//
// An update of a record in a terminal status is ignored: a warning is logged
// and the stored record is returned without error. Progress outside [0, 100]
// fails with core.ErrInvalidProgress. While the task is active a lower
// progress value is ignored.
func (m *Manager) Update(ctx context.Context, id string, patch Patch) (*core.TaskRecord, error) {
	if patch.Progress != nil {
		if err := core.ValidateProgress(*patch.Progress); err != nil {
			return nil, err
		}
	}

	var finished bool
	record, err := m.repo.Update(ctx, id, func(r *core.TaskRecord) error {
		if r.Status.IsTerminal() {
			return storage.ErrUnchanged
		}
		now := m.now()

		if patch.Status != nil {
			next := *patch.Status
			if next.IsActive() || next == core.TaskStarted {
				if r.StartedAt.IsZero() {
					r.StartedAt = now
				}
			}
			if next.IsTerminal() {
				if r.CompletedAt.IsZero() {
					r.CompletedAt = now
				}
				finished = true
			}
			r.Status = next
		}
		if patch.Progress != nil {
			if !(r.Status.IsActive() && *patch.Progress < r.Progress) {
				r.Progress = *patch.Progress
			}
		}
		if patch.Retries != nil {
			r.Retries = *patch.Retries
		}
		if patch.Result != nil {
			r.Result = *patch.Result
		}
		if patch.Error != nil {
			r.Error = *patch.Error
		}
		if len(patch.Metadata) > 0 {
			if r.Metadata == nil {
				r.Metadata = make(map[string]string, len(patch.Metadata))
			}
			maps.Copy(r.Metadata, patch.Metadata)
		}
		r.UpdatedAt = now
		return nil
	})
	if errors.Is(err, storage.ErrUnchanged) {
		m.logger.Warn("ignoring update of finished task", "taskID", id, "status", record.Status)
		return record, nil
	}
	if err != nil {
		return nil, m.wrap(err, "updating task")
	}
	if finished {
		m.metrics.TaskFinished(record.Type, record.Status)
	}
	return record, nil
}

// MarkReceived records that a worker picked the task up.
func (m *Manager) MarkReceived(ctx context.Context, id string) (*core.TaskRecord, error) {
	return m.Update(ctx, id, Patch{Status: status(core.TaskReceived)})
}

// MarkRunning moves the task to running and stamps its start time once.
func (m *Manager) MarkRunning(ctx context.Context, id string) (*core.TaskRecord, error) {
	return m.Update(ctx, id, Patch{Status: status(core.TaskRunning)})
}

// MarkProgress reports pct complete.
func (m *Manager) MarkProgress(ctx context.Context, id string, pct float64) (*core.TaskRecord, error) {
	return m.Update(ctx, id, Patch{Status: status(core.TaskProgress), Progress: &pct})
}

// MarkRetrying records a failed attempt that will be retried.
func (m *Manager) MarkRetrying(ctx context.Context, id string, retries int, cause string) (*core.TaskRecord, error) {
	return m.Update(ctx, id, Patch{Status: status(core.TaskRetrying), Retries: &retries, Error: &cause})
}

// MarkCompleted finishes the task successfully with result.
func (m *Manager) MarkCompleted(ctx context.Context, id, result string) (*core.TaskRecord, error) {
	full := 100.0
	return m.Update(ctx, id, Patch{Status: status(core.TaskSuccess), Progress: &full, Result: &result})
}

// MarkFailed finishes the task with an error message.
func (m *Manager) MarkFailed(ctx context.Context, id, message string) (*core.TaskRecord, error) {
	return m.Update(ctx, id, Patch{Status: status(core.TaskFailure), Error: &message})
}

// Cancel marks the task cancelled. Cancelling a finished task succeeds
// without changing it.
func (m *Manager) Cancel(ctx context.Context, id string) (*core.TaskRecord, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		m.logger.Debug("cancel of finished task ignored", "taskID", id, "status", current.Status)
		return current, nil
	}

	record, err := m.Update(ctx, id, Patch{Status: status(core.TaskCancelled)})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task cancellation recorded", "taskID", id, "status", record.Status)
	return record, nil
}

// CancelTree cancels id and every child task it spawned. Children that had
// already finished are left alone. Returns the IDs of the children that
// were cancelled by this call.
func (m *Manager) CancelTree(ctx context.Context, id string) ([]string, error) {
	if _, err := m.Cancel(ctx, id); err != nil {
		return nil, err
	}

	children, err := m.Children(ctx, id)
	if err != nil {
		return nil, err
	}

	var cancelled []string
	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}
		record, err := m.Cancel(ctx, child.ID)
		if err != nil {
			return cancelled, err
		}
		if record.Status == core.TaskCancelled {
			cancelled = append(cancelled, child.ID)
		}
	}
	return cancelled, nil
}

// IsCancelled reports whether cancellation was recorded for id.
func (m *Manager) IsCancelled(ctx context.Context, id string) (bool, error) {
	record, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return record.Status == core.TaskCancelled, nil
}

// CleanupOlderThan removes finished records completed more than age ago.
func (m *Manager) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if age < 0 {
		return 0, fmt.Errorf("%w: retention cannot be negative", core.ErrConfig)
	}
	n, err := m.repo.DeleteCompletedBefore(ctx, m.now().Add(-age))
	if err != nil {
		return 0, m.wrap(err, "removing old tasks")
	}
	if n > 0 {
		m.logger.Info("removed finished tasks", "count", n, "olderThan", age)
	}
	return n, nil
}

// wrap marks repository failures as transient, leaving not-found and
// validation errors as they are.
func (m *Manager) wrap(err error, action string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, storage.ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrTransientIO, action, err)
}

func status(s core.TaskStatus) *core.TaskStatus {
	return &s
}
