package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/newswave/internal/collect"
	"github.com/TobiSchelling/newswave/internal/config"
	"github.com/TobiSchelling/newswave/internal/database"
	"github.com/TobiSchelling/newswave/internal/search"
	"github.com/TobiSchelling/newswave/internal/summarize"
)

type fakeSource struct {
	articles  []collect.NewsArticle
	headlines []collect.NewsArticle
	err       error
	delay     time.Duration
}

func (f *fakeSource) Search(ctx context.Context, query string, daysBack, pageSize int) ([]collect.NewsArticle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.articles, f.err
}

func (f *fakeSource) TopHeadlines(ctx context.Context, country, category string, pageSize int) ([]collect.NewsArticle, error) {
	return f.headlines, f.err
}

type fakeFetcher struct {
	contents map[string]string
}

func (f *fakeFetcher) FetchAll(ctx context.Context, urls []string) map[string]string {
	if f.contents == nil {
		return map[string]string{}
	}
	return f.contents
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func testConfig() *config.Config {
	return &config.Config{
		Search: config.Search{
			DefaultQuery:       "台灣",
			PerPage:            5,
			BackgroundPageSize: 10,
			WindowDays:         7,
		},
		Sources: config.Sources{
			NewsAPI: config.NewsAPIConfig{Country: "hk"},
		},
		Server: config.Server{Port: 5001},
	}
}

func newTestServer(t *testing.T, source NewsSource, fetcher *fakeFetcher) (*Server, *database.DB) {
	t.Helper()
	db := openTestDB(t)
	sum := summarize.New(nil, config.Summarization{MaxLength: 80})
	srv, err := New(testConfig(), db, source, fetcher, sum)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, db
}

func doRequest(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func pollUntilTerminal(t *testing.T, srv *Server, checkURL string) search.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(srv, "GET", checkURL, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint returned %d", rec.Code)
		}
		var task search.Task
		decodeBody(t, rec, &task)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal status in time")
	return search.Task{}
}

func longBody(seed string) string {
	return strings.Repeat(seed+" article body text. ", 5)
}

func TestHealthRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	rec := doRequest(srv, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", body["status"])
	}
	if body["timestamp"] == "" {
		t.Error("expected a timestamp")
	}
}

func TestStartAsyncSearchFlow(t *testing.T) {
	source := &fakeSource{articles: []collect.NewsArticle{
		{URL: "https://example.com/a", Title: "Article A", Source: "Example"},
	}}
	fetcher := &fakeFetcher{contents: map[string]string{
		"https://example.com/a": longBody("first"),
	}}
	srv, db := newTestServer(t, source, fetcher)

	rec := doRequest(srv, "POST", "/api/news/search/async", `{"query":"台灣"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var started search.StartResponse
	decodeBody(t, rec, &started)
	if started.TaskID == "" {
		t.Fatal("expected a task ID")
	}
	if started.Status != search.StatusStarted {
		t.Errorf("expected status started, got %s", started.Status)
	}
	if started.CheckURL != "/api/news/search/status/"+started.TaskID {
		t.Errorf("unexpected check_url %q", started.CheckURL)
	}

	task := pollUntilTerminal(t, srv, started.CheckURL)
	if task.Status != search.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", task.Status, task.Message)
	}
	if len(task.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(task.Articles))
	}
	if task.Articles[0].Summary == "" {
		t.Error("expected a summary on the processed article")
	}

	count, _ := db.CountArticles()
	if count != 1 {
		t.Errorf("expected 1 indexed article, got %d", count)
	}
}

func TestSearchStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	rec := doRequest(srv, "GET", "/api/news/search/status/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "Task not found" {
		t.Errorf("unexpected error %q", body["error"])
	}
}

func TestPaginatedSearchSpawnsBackgroundTask(t *testing.T) {
	source := &fakeSource{articles: []collect.NewsArticle{
		{URL: "https://example.com/bg", Title: "Background find", Source: "Example"},
	}}
	fetcher := &fakeFetcher{contents: map[string]string{
		"https://example.com/bg": longBody("bg"),
	}}
	srv, db := newTestServer(t, source, fetcher)

	rec := doRequest(srv, "POST", "/api/news/search/paginated", `{"query":"quantum"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result search.PaginatedResult
	decodeBody(t, rec, &result)
	if result.TotalImmediate != 0 || len(result.Articles) != 0 {
		t.Errorf("expected empty immediate wave, got %d", result.TotalImmediate)
	}
	if result.BackgroundTaskID == "" {
		t.Fatal("expected a background task for an underfilled page")
	}
	if result.Message != "Returning 0 articles immediately, searching for more in the background" {
		t.Errorf("unexpected message %q", result.Message)
	}

	records, err := db.RecentSearches(5)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(records) != 1 || records[0].Query != "quantum" {
		t.Fatalf("expected search recorded, got %+v", records)
	}
	if records[0].TaskID == nil || *records[0].TaskID != result.BackgroundTaskID {
		t.Error("expected background task ID in history")
	}

	pollUntilTerminal(t, srv, "/api/news/search/status/"+result.BackgroundTaskID)
}

func TestPaginatedSearchFullPageSkipsBackground(t *testing.T) {
	srv, db := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	for _, u := range []string{"https://example.com/1", "https://example.com/2"} {
		if _, err := db.InsertArticle(u, "Climate report "+u, ptr("Example"), ptr("A climate summary"), nil, nil); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	rec := doRequest(srv, "POST", "/api/news/search/paginated", `{"query":"climate","per_page":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result search.PaginatedResult
	decodeBody(t, rec, &result)
	if len(result.Articles) != 2 || result.TotalImmediate != 2 {
		t.Fatalf("expected 2 immediate articles, got %d", result.TotalImmediate)
	}
	if result.BackgroundTaskID != "" {
		t.Error("expected no background task when the page is full")
	}
	if result.Message != "Returning 2 articles immediately" {
		t.Errorf("unexpected message %q", result.Message)
	}
}

func TestListTasks(t *testing.T) {
	source := &fakeSource{}
	srv, _ := newTestServer(t, source, &fakeFetcher{})

	first := doRequest(srv, "POST", "/api/news/search/async", `{"query":"a"}`)
	second := doRequest(srv, "POST", "/api/news/search/async", `{"query":"b"}`)

	var started search.StartResponse
	decodeBody(t, first, &started)
	pollUntilTerminal(t, srv, started.CheckURL)
	decodeBody(t, second, &started)
	pollUntilTerminal(t, srv, started.CheckURL)

	rec := doRequest(srv, "GET", "/api/news/search/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list search.TaskList
	decodeBody(t, rec, &list)
	if list.Total != 2 || len(list.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", list.Total)
	}
	if list.Tasks[0].Query != "a" || list.Tasks[1].Query != "b" {
		t.Errorf("unexpected task order: %+v", list.Tasks)
	}
}

func TestCancelTask(t *testing.T) {
	source := &fakeSource{
		articles: []collect.NewsArticle{{URL: "https://example.com/slow", Title: "Slow"}},
		delay:    300 * time.Millisecond,
	}
	srv, _ := newTestServer(t, source, &fakeFetcher{})

	rec := doRequest(srv, "POST", "/api/news/search/async", `{"query":"slow"}`)
	var started search.StartResponse
	decodeBody(t, rec, &started)

	rec = doRequest(srv, "DELETE", "/api/news/search/tasks/"+started.TaskID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Task cancelled" {
		t.Errorf("unexpected message %q", body["message"])
	}

	task := pollUntilTerminal(t, srv, started.CheckURL)
	if task.Status != search.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}

	// A second cancel succeeds without changing anything.
	rec = doRequest(srv, "DELETE", "/api/news/search/tasks/"+started.TaskID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat cancel, got %d", rec.Code)
	}
}

func TestCancelTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	rec := doRequest(srv, "DELETE", "/api/news/search/tasks/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRecentNewsRoute(t *testing.T) {
	srv, db := newTestServer(t, &fakeSource{}, &fakeFetcher{})
	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		if _, err := db.InsertArticle(u, "Title "+u, nil, ptr("summary"), nil, nil); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	rec := doRequest(srv, "GET", "/api/news?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var articles []search.Article
	decodeBody(t, rec, &articles)
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	if articles[0].ID == "" || articles[0].Title == "" {
		t.Errorf("missing wire fields: %+v", articles[0])
	}
}

func TestGetArticleRoute(t *testing.T) {
	srv, db := newTestServer(t, &fakeSource{}, &fakeFetcher{})
	id, err := db.InsertArticle("https://example.com/one", "The One", nil, ptr("summary"), nil, nil)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rec := doRequest(srv, "GET", "/api/news/"+itoa(id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var article search.Article
	decodeBody(t, rec, &article)
	if article.Title != "The One" {
		t.Errorf("unexpected article %+v", article)
	}

	rec = doRequest(srv, "GET", "/api/news/99999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing article, got %d", rec.Code)
	}

	rec = doRequest(srv, "GET", "/api/news/not-a-number", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for bad ID, got %d", rec.Code)
	}
}

func TestFetchNewsSync(t *testing.T) {
	source := &fakeSource{articles: []collect.NewsArticle{
		{URL: "https://example.com/s1", Title: "Sync One", Source: "Example"},
		{URL: "https://example.com/s2", Title: "Sync Two", Source: "Example"},
	}}
	fetcher := &fakeFetcher{contents: map[string]string{
		"https://example.com/s1": longBody("one"),
		"https://example.com/s2": longBody("two"),
	}}
	srv, db := newTestServer(t, source, fetcher)

	rec := doRequest(srv, "POST", "/api/news/fetch", `{"query":"台灣"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["message"] != "Successfully processed 2 new articles" {
		t.Errorf("unexpected message %v", body["message"])
	}
	if body["processed"] != float64(2) || body["total_articles"] != float64(2) {
		t.Errorf("unexpected counts: %v", body)
	}

	count, _ := db.CountArticles()
	if count != 2 {
		t.Errorf("expected 2 indexed, got %d", count)
	}
}

func TestFetchNewsSyncNoResults(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	rec := doRequest(srv, "POST", "/api/news/fetch", `{"query":"nothing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "No articles found" {
		t.Errorf("unexpected message %q", body["message"])
	}
}

func TestFetchHeadlines(t *testing.T) {
	source := &fakeSource{headlines: []collect.NewsArticle{
		{URL: "https://example.com/h1", Title: "Headline", Source: "Example", Content: longBody("headline")},
	}}
	srv, db := newTestServer(t, source, &fakeFetcher{})

	rec := doRequest(srv, "POST", "/api/news/headlines", `{"use_search":false,"country":"hk"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["message"] != "Successfully processed 1 headlines" {
		t.Errorf("unexpected message %v", body["message"])
	}

	count, _ := db.CountArticles()
	if count != 1 {
		t.Errorf("expected 1 indexed headline, got %d", count)
	}
}

func TestRSSRoute(t *testing.T) {
	srv, db := newTestServer(t, &fakeSource{}, &fakeFetcher{})
	if _, err := db.InsertArticle("https://example.com/rss", "RSS Article", nil, ptr("An RSS summary"), nil, nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rec := doRequest(srv, "GET", "/api/rss", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/rss+xml") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<rss") || !strings.Contains(body, "RSS Article") {
		t.Errorf("unexpected feed body: %s", body)
	}
}

func TestDashboardRoute(t *testing.T) {
	srv, db := newTestServer(t, &fakeSource{}, &fakeFetcher{})
	if _, err := db.InsertArticle("https://example.com/d", "Dashboard Article", ptr("Example"), ptr("**bold** summary"), nil, nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rec := doRequest(srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "NewsWave") {
		t.Error("expected NewsWave in dashboard")
	}
	if !strings.Contains(body, "Dashboard Article") {
		t.Error("expected seeded article on dashboard")
	}
	if !strings.Contains(body, "<strong>bold</strong>") {
		t.Error("expected markdown-rendered summary")
	}
}

func TestStaticRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSource{}, &fakeFetcher{})

	rec := doRequest(srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "--accent") {
		t.Error("expected CSS content")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
