package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry is the process-wide directory of tasks and their live resources:
// progress channels and cancellation handles. Snapshot mutation for a running
// task comes from its own orchestrator goroutine; the bookkeeping calls are
// safe to invoke concurrently from request handlers. All registry state is
// volatile; durability is the orchestrator's final record.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	channels map[string]*ProgressChannel
	cancels  map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:    make(map[string]*Task),
		channels: make(map[string]*ProgressChannel),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Create stores a new task snapshot.
func (r *Registry) Create(t *Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
}

// Get returns a copy of the task snapshot for id.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.RUnlock()
		return Task{}, ErrTaskNotFound
	}
	snapshot := *t
	r.mu.RUnlock()
	return snapshot, nil
}

// Update merges the non-nil fields of upd into the task snapshot and
// refreshes the last-update timestamp.
func (r *Registry) Update(id string, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.Message != nil {
		t.Message = *upd.Message
	}
	if upd.Result != nil {
		t.Result = upd.Result
	}
	t.UpdatedAt = time.Now()
	return nil
}

// List returns copies of all task snapshots, newest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AttachChannel registers the live progress channel for a task.
func (r *Registry) AttachChannel(id string, ch *ProgressChannel) {
	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()
}

// Channel returns the live progress channel for id, if any.
func (r *Registry) Channel(id string) (*ProgressChannel, error) {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrStreamNotFound
	}
	return ch, nil
}

// DetachChannel removes the channel registration for id.
func (r *Registry) DetachChannel(id string) {
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
}

// AttachCancel registers the cancellation handle for a running task.
func (r *Registry) AttachCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
}

// DetachCancel removes the cancellation handle for id.
func (r *Registry) DetachCancel(id string) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

// Cancel requests cooperative cancellation of a running task. Terminal tasks
// return ErrNotCancellable; a missing handle (already finished, or never
// existed) returns ErrNoRunningTask.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	if t, ok := r.tasks[id]; ok && t.Status.Terminal() {
		r.mu.Unlock()
		return ErrNotCancellable
	}
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if !ok {
		return ErrNoRunningTask
	}
	cancel()
	return nil
}
