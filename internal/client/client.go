// Package client is the HTTP client for a running newswave server. The
// session controller and the CLI talk to the task runner exclusively
// through this package, so they work the same against a local or a
// remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/TobiSchelling/newswave/internal/search"
)

// ErrNotFound is returned when the server reports 404 for a task or
// article, typically after a server restart dropped in-memory tasks.
var ErrNotFound = errors.New("not found")

// Client calls the newswave HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the server at baseURL, e.g. "http://127.0.0.1:5001".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &body); err != nil {
		return err
	}
	if body.Status != "healthy" {
		return fmt.Errorf("server reported status %q", body.Status)
	}
	return nil
}

// StartSearch starts a background search and returns its task handle.
func (c *Client) StartSearch(ctx context.Context, query string, pageSize int) (*search.StartResponse, error) {
	req := map[string]any{"query": query}
	if pageSize > 0 {
		req["page_size"] = pageSize
	}
	var resp search.StartResponse
	if err := c.post(ctx, "/api/news/search/async", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskStatus fetches the current state of a background task. Unknown
// task IDs return ErrNotFound.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*search.Task, error) {
	var task search.Task
	if err := c.get(ctx, "/api/news/search/status/"+taskID, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// PaginatedSearch runs the two-wave search: the response carries the
// immediate results and, when the page came back short, the ID of the
// background task filling the gap.
func (c *Client) PaginatedSearch(ctx context.Context, query string, page, perPage int) (*search.PaginatedResult, error) {
	req := map[string]any{"query": query}
	if page > 0 {
		req["page"] = page
	}
	if perPage > 0 {
		req["per_page"] = perPage
	}
	var resp search.PaginatedResult
	if err := c.post(ctx, "/api/news/search/paginated", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks returns all tasks the server currently tracks.
func (c *Client) ListTasks(ctx context.Context) (*search.TaskList, error) {
	var list search.TaskList
	if err := c.get(ctx, "/api/news/search/tasks", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CancelTask requests cancellation of a background task. Cancelling an
// already finished task succeeds; an unknown task returns ErrNotFound.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/news/search/tasks/"+taskID, nil, nil)
}

// RecentNews returns the newest indexed articles.
func (c *Client) RecentNews(ctx context.Context, limit int) ([]search.Article, error) {
	path := "/api/news"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var articles []search.Article
	if err := c.get(ctx, path, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

// Article fetches a single indexed article by ID.
func (c *Client) Article(ctx context.Context, id string) (*search.Article, error) {
	var article search.Article
	if err := c.get(ctx, "/api/news/"+id, &article); err != nil {
		return nil, err
	}
	return &article, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
