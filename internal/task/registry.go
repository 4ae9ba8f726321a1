// Package task tracks background search tasks and runs their pipeline.
//
// Task state lives in memory only. A restart forgets every task, which
// clients handle by treating an unknown task ID as gone.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/newswave/internal/search"
)

type entry struct {
	task   search.Task
	cancel context.CancelFunc
}

// Registry holds the state of all search tasks behind a mutex.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*entry
	order []string
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*entry)}
}

// Create registers a new task in status started and returns its ID and
// a context the pipeline must run under. The context is detached from
// any request so the task survives the request that spawned it; Cancel
// aborts it.
func (r *Registry) Create(query string) (string, context.Context) {
	taskCtx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &entry{
		task: search.Task{
			TaskID:    id,
			Query:     query,
			Status:    search.StatusStarted,
			Progress:  0,
			Message:   "Initializing search...",
			Articles:  []search.Article{},
			StartedAt: time.Now().Format(time.RFC3339),
		},
		cancel: cancel,
	}
	r.order = append(r.order, id)
	return id, taskCtx
}

// Update applies fn to the task under the lock. Once a task reaches a
// terminal status its state is final: late pipeline writes are
// discarded, so a cancelled task can never be resurrected by the
// goroutine that is still winding down.
func (r *Registry) Update(id string, fn func(*search.Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || e.task.Status.Terminal() {
		return
	}
	fn(&e.task)
}

// Get returns a snapshot of the task. The articles slice is copied so
// callers never alias the live state.
func (r *Registry) Get(id string) (search.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return search.Task{}, false
	}
	return snapshot(&e.task), true
}

// List returns partial snapshots of all tasks in creation order.
func (r *Registry) List() []search.TaskSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]search.TaskSummary, 0, len(r.order))
	for _, id := range r.order {
		t := r.tasks[id].task
		out = append(out, search.TaskSummary{
			TaskID:    t.TaskID,
			Query:     t.Query,
			Status:    t.Status,
			Progress:  t.Progress,
			Message:   t.Message,
			StartedAt: t.StartedAt,
		})
	}
	return out
}

// Cancel marks the task cancelled and aborts its context. Cancelling a
// task that already reached a terminal status is a no-op success, so
// repeated cancels and cancel-after-complete races are harmless. The
// bool reports whether the task exists.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	var cancel context.CancelFunc
	if !e.task.Status.Terminal() {
		e.task.Status = search.StatusCancelled
		e.task.Message = "Task cancelled"
		cancel = e.cancel
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// release frees the task's context once its pipeline goroutine exits.
func (r *Registry) release(id string) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	r.mu.Unlock()

	if ok && e.cancel != nil {
		e.cancel()
	}
}

func snapshot(t *search.Task) search.Task {
	out := *t
	out.Articles = make([]search.Article, len(t.Articles))
	copy(out.Articles, t.Articles)
	return out
}
