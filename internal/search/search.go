// Package search defines the wire contracts shared by the task runner,
// the HTTP server, the API client and the session controller: task
// statuses, search tasks, articles and the paginated search response.
package search

// Status is the lifecycle state of a background search task.
type Status string

const (
	StatusStarted             Status = "started"
	StatusFetchingArticles    Status = "fetching_articles"
	StatusFilteringArticles   Status = "filtering_articles"
	StatusFetchingContent     Status = "fetching_content"
	StatusGeneratingSummaries Status = "generating_summaries"
	StatusCompleted           Status = "completed"
	StatusError               Status = "error"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no further transitions follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Known reports whether s is one of the defined status values. Unknown
// values are treated as still-in-progress by consumers, so the task
// runner can grow new intermediate states without breaking old clients.
func (s Status) Known() bool {
	switch s {
	case StatusStarted, StatusFetchingArticles, StatusFilteringArticles,
		StatusFetchingContent, StatusGeneratingSummaries,
		StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Article is a single search result. ID is the stable identifier used
// for deduplication when merging result waves; content fields of the
// same article can differ between fetches and are never compared.
type Article struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	URL       string `json:"url"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Task is the full state of one background search job as reported by
// the task runner. Articles is only authoritative once Status is
// completed; intermediate snapshots may carry partial payloads.
type Task struct {
	TaskID         string    `json:"task_id"`
	Query          string    `json:"query"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message"`
	Articles       []Article `json:"articles"`
	TotalProcessed int       `json:"total_processed,omitempty"`
	TotalFound     int       `json:"total_found,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      string    `json:"started_at"`
}

// TaskSummary is the partial view returned by the task listing.
type TaskSummary struct {
	TaskID    string `json:"task_id"`
	Query     string `json:"query"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	StartedAt string `json:"started_at"`
}

// TaskList is the response of the task listing endpoint.
type TaskList struct {
	Tasks []TaskSummary `json:"tasks"`
	Total int           `json:"total"`
}

// PaginatedResult is the immediate-wave response. BackgroundTaskID is
// set only when a background task was spawned to find more results; an
// empty value means the immediate wave is final.
type PaginatedResult struct {
	Articles         []Article `json:"articles"`
	Page             int       `json:"page"`
	PerPage          int       `json:"per_page"`
	TotalImmediate   int       `json:"total_immediate"`
	BackgroundTaskID string    `json:"background_task_id,omitempty"`
	Message          string    `json:"message"`
}

// StartResponse acknowledges a directly started background search.
type StartResponse struct {
	TaskID   string `json:"task_id"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	CheckURL string `json:"check_url"`
}
