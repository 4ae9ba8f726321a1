package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/newswave/internal/search"
)

// scriptedFetcher returns its steps in order; the last step repeats.
// With a latency it also verifies that fetches never overlap.
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []fetchStep
	latency  time.Duration
	calls    int
	inFlight int
	overlap  bool
}

type fetchStep struct {
	task *search.Task
	err  error
}

func statusStep(status search.Status, progress int) fetchStep {
	return fetchStep{task: &search.Task{TaskID: "t-1", Status: status, Progress: progress}}
}

func (f *scriptedFetcher) TaskStatus(ctx context.Context, taskID string) (*search.Task, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	step := f.steps[i]
	f.mu.Unlock()

	if f.latency > 0 {
		time.Sleep(f.latency)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	cp := *step.task
	return &cp, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPollCompletesImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		statusStep(search.StatusCompleted, 100),
	}}
	poller := NewPoller(fetcher, time.Hour)

	start := time.Now()
	task, err := poller.Poll(context.Background(), "t-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != search.StatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if time.Since(start) > time.Second {
		t.Error("first fetch should not wait for the interval")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", fetcher.callCount())
	}
}

func TestPollObservesEveryFetch(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		statusStep(search.StatusStarted, 0),
		statusStep(search.StatusFetchingArticles, 10),
		statusStep(search.StatusGeneratingSummaries, 80),
		statusStep(search.StatusCompleted, 100),
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	var observed []search.Status
	task, err := poller.Poll(context.Background(), "t-1", func(task *search.Task) {
		observed = append(observed, task.Status)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != search.StatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}

	want := []search.Status{
		search.StatusStarted,
		search.StatusFetchingArticles,
		search.StatusGeneratingSummaries,
		search.StatusCompleted,
	}
	if len(observed) != len(want) {
		t.Fatalf("expected %d observations, got %d: %v", len(want), len(observed), observed)
	}
	for i, status := range want {
		if observed[i] != status {
			t.Errorf("observation %d: expected %s, got %s", i, status, observed[i])
		}
	}
}

func TestPollErrorStatus(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{task: &search.Task{TaskID: "t-1", Status: search.StatusError, Message: "Search failed: boom", Error: "boom"}},
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	_, err := poller.Poll(context.Background(), "t-1", nil)
	var terr *TaskError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if terr.Status != search.StatusError || terr.Message != "boom" {
		t.Errorf("unexpected task error %+v", terr)
	}
}

func TestPollCancelledStatus(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{task: &search.Task{TaskID: "t-1", Status: search.StatusCancelled, Message: "Task cancelled"}},
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	_, err := poller.Poll(context.Background(), "t-1", nil)
	var terr *TaskError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if terr.Status != search.StatusCancelled {
		t.Errorf("expected cancelled, got %s", terr.Status)
	}
}

func TestPollTransportFailurePropagates(t *testing.T) {
	transportErr := errors.New("connection refused")
	fetcher := &scriptedFetcher{steps: []fetchStep{{err: transportErr}}}
	poller := NewPoller(fetcher, time.Millisecond)

	observed := 0
	_, err := poller.Poll(context.Background(), "t-1", func(*search.Task) { observed++ })
	if !errors.Is(err, transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if observed != 0 {
		t.Errorf("observer should not run on a failed fetch, ran %d times", observed)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("expected no retry, got %d fetches", fetcher.callCount())
	}
}

func TestPollAbandonment(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		statusStep(search.StatusFetchingContent, 50),
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	observed := 0
	errCh := make(chan error, 1)
	go func() {
		_, err := poller.Poll(ctx, "t-1", func(*search.Task) {
			mu.Lock()
			observed++
			mu.Unlock()
		})
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := observed
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller never got going")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	after := observed
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	final := observed
	mu.Unlock()
	if final != after {
		t.Errorf("observer ran after abandonment: %d -> %d", after, final)
	}
}

func TestPollUnknownStatusKeepsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{task: &search.Task{TaskID: "t-1", Status: search.Status("vectorizing"), Progress: 42}},
		statusStep(search.StatusCompleted, 100),
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	var observed []search.Status
	task, err := poller.Poll(context.Background(), "t-1", func(task *search.Task) {
		observed = append(observed, task.Status)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != search.StatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if len(observed) != 2 || observed[0] != search.Status("vectorizing") {
		t.Errorf("expected the unknown status to be observed and survived, got %v", observed)
	}
}

func TestPollStopsAfterTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		statusStep(search.StatusStarted, 0),
		statusStep(search.StatusCompleted, 100),
	}}
	poller := NewPoller(fetcher, time.Millisecond)

	if _, err := poller.Poll(context.Background(), "t-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := fetcher.callCount()
	time.Sleep(10 * time.Millisecond)
	if fetcher.callCount() != calls {
		t.Errorf("fetches continued after terminal status: %d -> %d", calls, fetcher.callCount())
	}
}

func TestPollSequentialFetches(t *testing.T) {
	fetcher := &scriptedFetcher{
		latency: 3 * time.Millisecond,
		steps: []fetchStep{
			statusStep(search.StatusStarted, 0),
			statusStep(search.StatusFetchingArticles, 10),
			statusStep(search.StatusCompleted, 100),
		},
	}
	poller := NewPoller(fetcher, time.Millisecond)

	// The observer outlasting the interval must delay the next fetch,
	// never overlap it.
	_, err := poller.Poll(context.Background(), "t-1", func(*search.Task) {
		time.Sleep(5 * time.Millisecond)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.overlap {
		t.Error("status fetches overlapped")
	}
}
