package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/newswave/internal/search"
)

// StatusFetcher fetches the current state of one background task.
type StatusFetcher interface {
	TaskStatus(ctx context.Context, taskID string) (*search.Task, error)
}

// TaskError reports a background task that ended in error or cancelled
// instead of delivering results.
type TaskError struct {
	TaskID  string
	Status  search.Status
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s %s: %s", e.TaskID, e.Status, e.Message)
}

// Poller drives the status loop for background tasks.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
}

// NewPoller creates a poller fetching at the given cadence. A zero or
// negative interval falls back to one second.
func NewPoller(fetcher StatusFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{fetcher: fetcher, interval: interval}
}

// Poll fetches the task's status until it reaches a terminal state.
// The first fetch happens immediately. Each next fetch is scheduled
// only after the previous observation returned, so fetches for one
// poll never overlap. observe runs for every fetched snapshot,
// including the terminal one.
//
// Cancelling ctx abandons the poll: no further fetches are issued and
// observe is never invoked again, even for a response already in
// flight. Poll returns the final task on completed, a *TaskError when
// the task ends in error or cancelled, and transport failures
// immediately and unretried, since a failing status fetch is
// indistinguishable from a task runner outage.
//
// Unrecognized status values are treated as still in progress and
// logged once per value, so new intermediate states on the task runner
// do not break older clients.
func (p *Poller) Poll(ctx context.Context, taskID string, observe func(*search.Task)) (*search.Task, error) {
	unknownSeen := make(map[search.Status]bool)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		task, err := p.fetcher.TaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if observe != nil {
			observe(task)
		}

		switch task.Status {
		case search.StatusCompleted:
			return task, nil
		case search.StatusError:
			msg := task.Message
			if task.Error != "" {
				msg = task.Error
			}
			return nil, &TaskError{TaskID: taskID, Status: task.Status, Message: msg}
		case search.StatusCancelled:
			return nil, &TaskError{TaskID: taskID, Status: task.Status, Message: task.Message}
		default:
			if !task.Status.Known() && !unknownSeen[task.Status] {
				unknownSeen[task.Status] = true
				log.Printf("Unknown status %q for task %s, treating as in progress", task.Status, taskID)
			}
		}

		timer.Reset(p.interval)
	}
}
