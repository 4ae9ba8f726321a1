// Package session implements the client side of the two-wave search:
// an immediate page served from the index plus a background
// crawl-and-summarize task observed by polling. The Controller owns
// all session state in a single goroutine and consumes events posted
// by its public methods and by the poll loop. Every event carries the
// generation it belongs to, and the loop discards events from stale
// generations, so a late response from a superseded search can never
// touch a newer session's result list.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/TobiSchelling/newswave/internal/client"
	"github.com/TobiSchelling/newswave/internal/search"
)

// Phase is the lifecycle position of one search session.
type Phase string

const (
	// PhaseIdle means no query has been submitted yet.
	PhaseIdle Phase = "idle"
	// PhaseLoading means the immediate-wave request is in flight.
	PhaseLoading Phase = "loading"
	// PhaseReady means immediate results are displayed and a
	// background task is being polled.
	PhaseReady Phase = "ready"
	// PhaseFinalized means no further changes will happen to this
	// session. A new query starts a fresh one.
	PhaseFinalized Phase = "finalized"
)

// SearchAPI is the slice of the task runner API the controller
// consumes. *client.Client satisfies it.
type SearchAPI interface {
	StatusFetcher
	PaginatedSearch(ctx context.Context, query string, page, perPage int) (*search.PaginatedResult, error)
	CancelTask(ctx context.Context, taskID string) error
}

// State is a coherent snapshot of the current session, safe to read
// after the controller has moved on.
type State struct {
	Generation int
	Query      string
	Phase      Phase
	Articles   []search.Article
	TaskID     string
	Status     search.Status
	Progress   int
	Message    string

	// Notice carries an advisory background-wave failure. The
	// immediate results stay displayed when it is set.
	Notice string
	// Err is set only when the immediate wave itself failed and no
	// results could be shown at all.
	Err error
}

// Polling reports whether a background task is actively being
// observed for this session.
func (s State) Polling() bool {
	return s.Phase == PhaseReady && s.TaskID != ""
}

func (s State) clone() State {
	cp := s
	cp.Articles = append([]search.Article(nil), s.Articles...)
	return cp
}

// Config holds the controller knobs.
type Config struct {
	// PerPage is the immediate-wave page size.
	PerPage int
	// PollInterval is the background status fetch cadence.
	PollInterval time.Duration
	// PollTimeout caps how long a background task is polled before
	// the session is finalized with a timeout notice. Zero means no
	// ceiling.
	PollTimeout time.Duration
}

// Controller coordinates immediate and background search waves and
// exposes one coherent view of the current results.
type Controller struct {
	api      SearchAPI
	perPage  int
	interval time.Duration
	timeout  time.Duration

	events  chan event
	updates chan State
	done    chan struct{}
	once    sync.Once
}

type event interface{}

type submitQuery struct{ query string }

type cancelCurrent struct{}

type getState struct{ reply chan State }

type immediateDone struct {
	gen    int
	result *search.PaginatedResult
	err    error
}

type pollTick struct {
	gen  int
	task *search.Task
}

type pollDone struct {
	gen  int
	task *search.Task
	err  error
}

// New starts a controller talking to the given API. Callers must
// Close it when done.
func New(api SearchAPI, cfg Config) *Controller {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	c := &Controller{
		api:      api,
		perPage:  cfg.PerPage,
		interval: cfg.PollInterval,
		timeout:  cfg.PollTimeout,
		events:   make(chan event),
		updates:  make(chan State, 1),
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// SubmitQuery starts a new search session. Any session still in
// flight is superseded: its poll is abandoned and its background task
// receives a best-effort remote cancellation.
func (c *Controller) SubmitQuery(query string) {
	c.post(submitQuery{query: query})
}

// CancelCurrent cancels the active background task, if any. Local
// abandonment is immediate; the remote cancel request is
// fire-and-forget and its outcome never gates the session.
func (c *Controller) CancelCurrent() {
	c.post(cancelCurrent{})
}

// Snapshot returns the current session state. After Close it returns
// the zero State.
func (c *Controller) Snapshot() State {
	reply := make(chan State, 1)
	select {
	case c.events <- getState{reply: reply}:
		return <-reply
	case <-c.done:
		return State{}
	}
}

// Updates returns a latest-wins notification channel: it always holds
// the most recent state, and slow consumers only ever miss
// intermediate states, never the newest one.
func (c *Controller) Updates() <-chan State {
	return c.updates
}

// Close stops the controller and abandons any active poll.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Controller) loop() {
	st := State{Phase: PhaseIdle}
	var sessionCtx context.Context
	var abandon context.CancelFunc
	defer func() {
		if abandon != nil {
			abandon()
		}
	}()

	for {
		var ev event
		select {
		case <-c.done:
			return
		case ev = <-c.events:
		}

		switch ev := ev.(type) {
		case submitQuery:
			if abandon != nil {
				abandon()
				abandon = nil
			}
			if st.Polling() {
				go c.cancelRemote(st.TaskID)
			}

			st = State{
				Generation: st.Generation + 1,
				Query:      ev.query,
				Phase:      PhaseLoading,
			}
			sessionCtx, abandon = context.WithCancel(context.Background())
			go c.runImmediate(sessionCtx, st.Generation, ev.query)
			c.notify(st)

		case cancelCurrent:
			switch st.Phase {
			case PhaseLoading:
				if abandon != nil {
					abandon()
					abandon = nil
				}
				st.Phase = PhaseFinalized
				st.Status = search.StatusCancelled
				st.Notice = "Search cancelled"
				c.notify(st)
			case PhaseReady:
				if abandon != nil {
					abandon()
					abandon = nil
				}
				go c.cancelRemote(st.TaskID)
				st.Phase = PhaseFinalized
				st.Status = search.StatusCancelled
				st.Notice = "Task cancelled"
				c.notify(st)
			}

		case getState:
			ev.reply <- st.clone()

		case immediateDone:
			if ev.gen != st.Generation || st.Phase != PhaseLoading {
				break
			}
			if ev.err != nil {
				st.Phase = PhaseFinalized
				st.Err = ev.err
				log.Printf("Search %q failed: %v", st.Query, ev.err)
				c.notify(st)
				break
			}
			st.Articles = append([]search.Article(nil), ev.result.Articles...)
			st.Message = ev.result.Message
			if ev.result.BackgroundTaskID == "" {
				st.Phase = PhaseFinalized
				c.notify(st)
				break
			}
			st.Phase = PhaseReady
			st.TaskID = ev.result.BackgroundTaskID
			st.Status = search.StatusStarted
			pollCtx, release := c.pollContext(sessionCtx)
			go c.runPoll(pollCtx, release, st.Generation, st.TaskID)
			c.notify(st)

		case pollTick:
			if ev.gen != st.Generation || st.Phase != PhaseReady {
				break
			}
			st.Status = ev.task.Status
			st.Progress = ev.task.Progress
			st.Message = ev.task.Message
			c.notify(st)

		case pollDone:
			if ev.gen != st.Generation || st.Phase != PhaseReady {
				break
			}
			st.Phase = PhaseFinalized
			if ev.err != nil {
				st.Notice = backgroundNotice(ev.err)
				log.Printf("Background search for %q ended without results: %v", st.Query, ev.err)
				c.notify(st)
				break
			}
			st.Status = search.StatusCompleted
			st.Progress = ev.task.Progress
			st.Message = ev.task.Message
			st.Articles = MergeArticles(st.Articles, ev.task.Articles)
			c.notify(st)
		}
	}
}

// pollContext derives the poll context from the session context,
// capped by the poll timeout when one is configured. Supersession and
// CancelCurrent abandon the poll through the session context.
func (c *Controller) pollContext(sessionCtx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(sessionCtx, c.timeout)
	}
	return context.WithCancel(sessionCtx)
}

func (c *Controller) runPoll(ctx context.Context, release context.CancelFunc, gen int, taskID string) {
	defer release()
	poller := NewPoller(c.api, c.interval)
	final, err := poller.Poll(ctx, taskID, func(task *search.Task) {
		c.post(pollTick{gen: gen, task: task})
	})
	c.post(pollDone{gen: gen, task: final, err: err})
}

func (c *Controller) runImmediate(ctx context.Context, gen int, query string) {
	result, err := c.api.PaginatedSearch(ctx, query, 1, c.perPage)
	c.post(immediateDone{gen: gen, result: result, err: err})
}

func (c *Controller) cancelRemote(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.api.CancelTask(ctx, taskID)
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		log.Printf("Failed to cancel task %s: %v", taskID, err)
	}
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) notify(st State) {
	s := st.clone()
	for {
		select {
		case c.updates <- s:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

func backgroundNotice(err error) string {
	var terr *TaskError
	switch {
	case errors.As(err, &terr):
		return terr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "Background search timed out"
	case errors.Is(err, context.Canceled):
		return "Task cancelled"
	default:
		return err.Error()
	}
}
