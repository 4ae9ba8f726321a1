package task

import (
	"testing"

	"github.com/TobiSchelling/newswave/internal/search"
)

func TestCreateInitialState(t *testing.T) {
	reg := NewRegistry()
	id, ctx := reg.Create("台灣")

	if id == "" {
		t.Fatal("expected non-empty task ID")
	}
	if ctx.Err() != nil {
		t.Fatal("expected live context for new task")
	}

	task, ok := reg.Get(id)
	if !ok {
		t.Fatal("expected task to exist")
	}
	if task.Status != search.StatusStarted {
		t.Errorf("expected status started, got %s", task.Status)
	}
	if task.Progress != 0 {
		t.Errorf("expected progress 0, got %d", task.Progress)
	}
	if task.Message != "Initializing search..." {
		t.Errorf("unexpected message %q", task.Message)
	}
	if task.Query != "台灣" {
		t.Errorf("unexpected query %q", task.Query)
	}
	if task.Articles == nil || len(task.Articles) != 0 {
		t.Errorf("expected empty non-nil articles, got %v", task.Articles)
	}
	if task.StartedAt == "" {
		t.Error("expected started_at to be set")
	}
}

func TestUpdateAppliesMutation(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create("q")

	reg.Update(id, func(task *search.Task) {
		task.Status = search.StatusFetchingArticles
		task.Progress = 10
		task.Message = "Fetching articles..."
	})

	task, _ := reg.Get(id)
	if task.Status != search.StatusFetchingArticles || task.Progress != 10 {
		t.Errorf("update not applied: %s %d", task.Status, task.Progress)
	}
}

func TestUpdateDiscardedAfterTerminal(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create("q")

	reg.Update(id, func(task *search.Task) {
		task.Status = search.StatusCompleted
		task.Progress = 100
		task.Message = "Processed 3 new articles"
	})
	reg.Update(id, func(task *search.Task) {
		task.Status = search.StatusFetchingContent
		task.Progress = 50
		task.Message = "late write"
	})

	task, _ := reg.Get(id)
	if task.Status != search.StatusCompleted {
		t.Errorf("terminal status overwritten: %s", task.Status)
	}
	if task.Progress != 100 || task.Message != "Processed 3 new articles" {
		t.Errorf("terminal fields overwritten: %d %q", task.Progress, task.Message)
	}
}

func TestGetSnapshotIsolated(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create("q")
	reg.Update(id, func(task *search.Task) {
		task.Articles = append(task.Articles, search.Article{ID: "1", Title: "original"})
	})

	snap, _ := reg.Get(id)
	snap.Articles[0].Title = "mutated"
	snap.Articles = append(snap.Articles, search.Article{ID: "2"})

	again, _ := reg.Get(id)
	if len(again.Articles) != 1 || again.Articles[0].Title != "original" {
		t.Errorf("snapshot mutation leaked into registry: %v", again.Articles)
	}
}

func TestGetUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get("nope"); ok {
		t.Error("expected unknown task to be absent")
	}
}

func TestListInCreationOrder(t *testing.T) {
	reg := NewRegistry()
	first, _ := reg.Create("a")
	second, _ := reg.Create("b")
	third, _ := reg.Create("c")

	got := reg.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got))
	}
	want := []string{first, second, third}
	for i, summary := range got {
		if summary.TaskID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], summary.TaskID)
		}
	}
	if got[1].Query != "b" || got[1].Status != search.StatusStarted {
		t.Errorf("unexpected summary fields: %+v", got[1])
	}
}

func TestCancelMarksTaskAndAbortsContext(t *testing.T) {
	reg := NewRegistry()
	id, ctx := reg.Create("q")
	reg.Update(id, func(task *search.Task) {
		task.Status = search.StatusFetchingContent
		task.Progress = 50
	})

	if !reg.Cancel(id) {
		t.Fatal("expected cancel to find the task")
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("expected task context to be cancelled")
	}

	task, _ := reg.Get(id)
	if task.Status != search.StatusCancelled {
		t.Errorf("expected cancelled, got %s", task.Status)
	}
	if task.Message != "Task cancelled" {
		t.Errorf("unexpected message %q", task.Message)
	}
	if task.Progress != 50 {
		t.Errorf("expected progress preserved, got %d", task.Progress)
	}
}

func TestCancelIdempotent(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create("q")

	if !reg.Cancel(id) || !reg.Cancel(id) {
		t.Fatal("expected repeated cancels to succeed")
	}
	task, _ := reg.Get(id)
	if task.Status != search.StatusCancelled {
		t.Errorf("expected cancelled, got %s", task.Status)
	}
}

func TestCancelCompletedKeepsCompleted(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create("q")
	reg.Update(id, func(task *search.Task) {
		task.Status = search.StatusCompleted
		task.Progress = 100
		task.Message = "Processed 2 new articles"
	})

	if !reg.Cancel(id) {
		t.Fatal("expected cancel of finished task to report found")
	}
	task, _ := reg.Get(id)
	if task.Status != search.StatusCompleted {
		t.Errorf("cancel resurrected a finished task: %s", task.Status)
	}
	if task.Message != "Processed 2 new articles" {
		t.Errorf("cancel overwrote terminal message: %q", task.Message)
	}
}

func TestCancelUnknown(t *testing.T) {
	reg := NewRegistry()
	if reg.Cancel("nope") {
		t.Error("expected cancel of unknown task to report not found")
	}
}
