// Package tasks runs long operations (signal computation, concept sync) on a
// local bounded worker pool and tracks them by job id.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/logger"
)

// State is a job lifecycle state.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// Done reports whether the state is terminal.
func (s State) Done() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// JobID identifies a submitted job.
type JobID string

// Progress counts processed units of a job.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job is a snapshot of a submitted job.
type Job struct {
	ID         JobID      `json:"id"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	Progress   Progress   `json:"progress"`
	Error      string     `json:"error,omitempty"`
	Err        error      `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Reporter receives progress updates from a running job.
type Reporter func(done, total int)

// Func is the body of a job.
type Func func(ctx context.Context, report Reporter) error

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager schedules jobs on at most workers goroutines.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[JobID]*entry
	slots  chan struct{}
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger *logger.Logger
}

// NewManager creates a manager; workers below one means one.
func NewManager(workers int, log *logger.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		jobs:   map[JobID]*entry{},
		slots:  make(chan struct{}, workers),
		ctx:    ctx,
		stop:   stop,
		logger: logger.OrNop(log).With("component", "tasks"),
	}
}

// Submit queues fn and returns its job id immediately.
func (m *Manager) Submit(name string, fn Func) JobID {
	id := JobID(uuid.NewString())
	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		job:    Job{ID: id, Name: name, State: Pending, CreatedAt: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.jobs[id] = e
	m.mu.Unlock()
	m.logger.Info("job submitted", "job_id", id, "name", name)

	m.wg.Add(1)
	go m.run(ctx, e, fn)
	return id
}

func (m *Manager) run(ctx context.Context, e *entry, fn Func) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()
	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.finish(e, ctx.Err())
		return
	}
	now := time.Now()
	m.mu.Lock()
	e.job.State = Running
	e.job.StartedAt = &now
	m.mu.Unlock()
	m.logger.Debug("job started", "job_id", e.job.ID)

	report := func(done, total int) {
		m.mu.Lock()
		e.job.Progress = Progress{Done: done, Total: total}
		m.mu.Unlock()
	}
	m.finish(e, m.invoke(ctx, fn, report))
}

func (m *Manager) invoke(ctx context.Context, fn Func, report Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tasks: panic: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (m *Manager) finish(e *entry, err error) {
	now := time.Now()
	m.mu.Lock()
	e.job.FinishedAt = &now
	switch {
	case err == nil:
		e.job.State = Succeeded
	case errors.Is(err, context.Canceled):
		e.job.State = Cancelled
		e.job.Err, e.job.Error = err, err.Error()
	default:
		e.job.State = Failed
		e.job.Err, e.job.Error = err, err.Error()
	}
	job := e.job
	m.mu.Unlock()
	if err != nil && job.State == Failed {
		m.logger.Warn("job failed", "job_id", job.ID, "name", job.Name, "error", err)
		return
	}
	m.logger.Info("job finished", "job_id", job.ID, "name", job.Name, "state", job.State)
}

// Get returns a snapshot of a job.
func (m *Manager) Get(id JobID) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, errs.NotFound("job %s", id)
	}
	return e.job, nil
}

// List returns snapshots of all jobs, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until the job finishes or ctx is done and returns its final
// snapshot; the job's own error is returned alongside.
func (m *Manager) Wait(ctx context.Context, id JobID) (Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, errs.NotFound("job %s", id)
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	job, _ := m.Get(id)
	return job, job.Err
}

// Cancel cancels a pending or running job.
func (m *Manager) Cancel(id JobID) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return errs.NotFound("job %s", id)
	}
	e.cancel()
	return nil
}

// Close cancels every job and waits for them to return.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}
