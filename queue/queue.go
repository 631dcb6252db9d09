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


// Package queue is the in-process task queue. Jobs are dispatched in FIFO
// order per named queue onto ants worker pools. Delivery is at-least-once:
// a job may be delivered again with Redeliver, so handlers must be
// idempotent.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docket/core"
)

// DefaultQueue is used when Enqueue is called with an empty queue name.
const DefaultQueue = "default"

// DefaultBacklog is the number of jobs a queue holds before Enqueue fails.
const DefaultBacklog = 1024

// Job describes one unit of work.
type Job struct {
	ID      string // External task ID; assigned when empty
	Type    string // Selects the handler
	Payload map[string]string
}

// Handler executes a job. ctx is cancelled when the job is revoked with
// terminate set or the queue is closed.
type Handler func(ctx context.Context, job Job) error

// State is the delivery state of a task.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateRevoked State = "revoked"
)

type delivery struct {
	job      Job
	queue    string
	state    State
	err      error
	revoked  bool
	attempts int
	cancel   context.CancelFunc
	done     chan struct{}
}

type lane struct {
	pool  *ants.Pool
	jobs  chan *delivery
	ready sync.WaitGroup
}

// Queue dispatches jobs to handlers on worker pools.
type Queue struct {
	poolSize   int
	backlog    int
	handlers   map[string]Handler
	lanes      map[string]*lane
	deliveries map[string]*delivery
	ctx        context.Context
	cancel     context.CancelFunc
	running    sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue) error

// WithPoolSize sets the number of concurrent workers per named queue.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(q *Queue) error {
		if size < 1 {
			size = 1
		}
		q.poolSize = size
		return nil
	}
}

// WithBacklog sets how many jobs may wait per named queue.
func WithBacklog(n int) Option {
	return func(q *Queue) error {
		if n < 1 {
			return fmt.Errorf("%w: backlog must be positive", core.ErrConfig)
		}
		q.backlog = n
		return nil
	}
}

// WithHandler registers the handler for a job type.
func WithHandler(jobType string, h Handler) Option {
	return func(q *Queue) error {
		q.handlers[jobType] = h
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// New creates a Queue.
func New(opts ...Option) (*Queue, error) {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		poolSize:   poolSize,
		backlog:    DefaultBacklog,
		handlers:   make(map[string]Handler),
		lanes:      make(map[string]*lane),
		deliveries: make(map[string]*delivery),
		ctx:        ctx,
		cancel:     cancel,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			cancel()
			return nil, err
		}
	}
	q.logger = q.logger.With("component", "queue")
	return q, nil
}

// Register adds or replaces the handler for a job type.
func (q *Queue) Register(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Enqueue schedules job on queueName and returns its task ID.
// It does not wait for the job to start.
func (q *Queue) Enqueue(ctx context.Context, job Job, queueName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if queueName == "" {
		queueName = DefaultQueue
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}
	if _, ok := q.handlers[job.Type]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := q.deliveries[job.ID]; exists {
		return "", fmt.Errorf("%w: task %s already enqueued", core.ErrConfig, job.ID)
	}

	d := &delivery{job: job, queue: queueName}
	if err := q.dispatchLocked(d); err != nil {
		return "", err
	}
	q.deliveries[job.ID] = d
	q.logger.Debug("job enqueued", "taskID", job.ID, "type", job.Type, "queue", queueName)
	return job.ID, nil
}

// Revoke stops a task. A queued task never starts. With terminate set a
// running task has its context cancelled as well. Revoking a finished task
// has no effect.
func (q *Queue) Revoke(taskID string, terminate bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.deliveries[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	switch d.state {
	case StateQueued:
		d.revoked = true
	case StateRunning:
		d.revoked = true
		if terminate && d.cancel != nil {
			d.cancel()
		}
	}
	q.logger.Info("task revoked", "taskID", taskID, "state", d.state, "terminate", terminate)
	return nil
}

// Redeliver delivers a finished task again, as a broker does after a
// visibility timeout. Queued, running and revoked tasks are left alone.
func (q *Queue) Redeliver(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	d, ok := q.deliveries[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if d.revoked || d.state == StateQueued || d.state == StateRunning {
		return nil
	}
	q.logger.Info("redelivering task", "taskID", taskID, "attempts", d.attempts)
	return q.dispatchLocked(d)
}

// Status returns the delivery state of a task and the error of its last
// run, if any.
func (q *Queue) Status(taskID string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.deliveries[taskID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return d.state, d.err
}

// Wait blocks until the current delivery of taskID finishes or ctx ends.
// It returns the handler error of that delivery.
func (q *Queue) Wait(ctx context.Context, taskID string) error {
	q.mu.Lock()
	d, ok := q.deliveries[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	done := d.done
	q.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return d.err
}

// Close stops accepting jobs, lets queued and running jobs finish and
// releases the worker pools.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		close(l.jobs)
		lanes = append(lanes, l)
	}
	q.mu.Unlock()

	for _, l := range lanes {
		l.ready.Wait()
	}
	q.running.Wait()
	q.cancel()
	for _, l := range lanes {
		l.pool.Release()
	}
}

// dispatchLocked hands d to the lane of its queue. Caller holds q.mu.
func (q *Queue) dispatchLocked(d *delivery) error {
	l, err := q.laneLocked(d.queue)
	if err != nil {
		return err
	}

	d.state = StateQueued
	d.err = nil
	d.done = make(chan struct{})
	select {
	case l.jobs <- d:
		q.running.Add(1)
		return nil
	default:
		close(d.done)
		d.state = StateFailed
		d.err = ErrQueueFull
		return fmt.Errorf("%w: %w: %s", core.ErrTransientIO, ErrQueueFull, d.queue)
	}
}

func (q *Queue) laneLocked(name string) (*lane, error) {
	if l, ok := q.lanes[name]; ok {
		return l, nil
	}
	pool, err := ants.NewPool(q.poolSize)
	if err != nil {
		return nil, err
	}
	l := &lane{pool: pool, jobs: make(chan *delivery, q.backlog)}
	l.ready.Add(1)
	go q.dispatch(l)
	q.lanes[name] = l
	return l, nil
}

// dispatch feeds the pool in FIFO order. Submit blocks while every worker is busy.
func (q *Queue) dispatch(l *lane) {
	defer l.ready.Done()
	for d := range l.jobs {
		if err := l.pool.Submit(func() { q.run(d) }); err != nil {
			q.finish(d, fmt.Errorf("%w: submitting job: %w", core.ErrTransientIO, err))
		}
	}
}

func (q *Queue) run(d *delivery) {
	q.mu.Lock()
	if d.revoked {
		q.mu.Unlock()
		q.logger.Debug("skipping revoked task", "taskID", d.job.ID)
		q.finishState(d, StateRevoked, nil)
		return
	}
	ctx, cancel := context.WithCancel(q.ctx)
	d.cancel = cancel
	d.state = StateRunning
	d.attempts++
	handler := q.handlers[d.job.Type]
	job := d.job
	q.mu.Unlock()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = handler(ctx, job)
	}()
	cancel()

	if err != nil {
		q.logger.Error("job failed", "taskID", job.ID, "type", job.Type, "err", err)
	}
	q.finish(d, err)
}

func (q *Queue) finish(d *delivery, err error) {
	state := StateDone
	if err != nil {
		state = StateFailed
	}
	q.finishState(d, state, err)
}

func (q *Queue) finishState(d *delivery, state State, err error) {
	q.mu.Lock()
	d.state = state
	d.err = err
	d.cancel = nil
	close(d.done)
	q.mu.Unlock()
	q.running.Done()
}
