package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"unicode/utf8"

	"github.com/TobiSchelling/newswave/internal/collect"
	"github.com/TobiSchelling/newswave/internal/database"
	"github.com/TobiSchelling/newswave/internal/search"
	"github.com/TobiSchelling/newswave/internal/summarize"
)

const (
	// Cap on the payload when every candidate is already indexed.
	existingReturnLimit = 10

	// Shorter content is not worth summarizing.
	summarizeMinRunes = 50
)

// Searcher provides candidate articles for a query.
type Searcher interface {
	Search(ctx context.Context, query string, daysBack, pageSize int) ([]collect.NewsArticle, error)
}

// Fetcher retrieves full article content keyed by URL.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) map[string]string
}

// Runner executes the background wave of a search: fetch candidates,
// drop already-indexed URLs, pull content, summarize, and index.
type Runner struct {
	registry   *Registry
	db         *database.DB
	searcher   Searcher
	fetcher    Fetcher
	summarizer *summarize.Summarizer
	daysBack   int
}

// NewRunner creates a pipeline runner.
func NewRunner(registry *Registry, db *database.DB, searcher Searcher, fetcher Fetcher, summarizer *summarize.Summarizer, daysBack int) *Runner {
	return &Runner{
		registry:   registry,
		db:         db,
		searcher:   searcher,
		fetcher:    fetcher,
		summarizer: summarizer,
		daysBack:   daysBack,
	}
}

// Start registers a new task and launches its pipeline in the
// background. It returns the task ID immediately.
func (r *Runner) Start(query string, pageSize int) string {
	id, ctx := r.registry.Create(query)
	go r.Run(ctx, id, query, pageSize)
	return id
}

// Run executes the pipeline for one task, publishing progress through
// the registry. When the task's context is cancelled the pipeline stops
// at the next checkpoint; the registry's terminal guard discards any
// writes still in flight, so the cancelled state sticks.
func (r *Runner) Run(ctx context.Context, taskID, query string, pageSize int) {
	defer r.registry.release(taskID)

	err := r.run(ctx, taskID, query, pageSize)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	log.Printf("Search task %s failed: %v", taskID, err)
	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusError
		t.Progress = 100
		t.Message = fmt.Sprintf("Search failed: %v", err)
		t.Error = err.Error()
	})
}

func (r *Runner) run(ctx context.Context, taskID, query string, pageSize int) error {
	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusFetchingArticles
		t.Progress = 10
		t.Message = "Fetching articles..."
	})

	candidates, err := r.searcher.Search(ctx, query, r.daysBack, pageSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		r.registry.Update(taskID, func(t *search.Task) {
			t.Status = search.StatusCompleted
			t.Progress = 100
			t.Message = "No matching articles found"
			t.Articles = []search.Article{}
		})
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusFilteringArticles
		t.Progress = 30
		t.Message = fmt.Sprintf("Found %d articles, filtering...", len(candidates))
	})

	urls := make([]string, 0, len(candidates))
	for _, a := range candidates {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	existing, err := r.db.ExistingURLs(urls)
	if err != nil {
		return err
	}

	var toProcess []collect.NewsArticle
	for _, a := range candidates {
		if a.URL == "" || existing[a.URL] {
			continue
		}
		toProcess = append(toProcess, a)
	}

	if len(toProcess) == 0 {
		return r.completeAllExisting(taskID, candidates, existing)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusFetchingContent
		t.Progress = 50
		t.Message = fmt.Sprintf("Fetching content for %d articles...", len(toProcess))
	})

	fetchURLs := make([]string, len(toProcess))
	for i, a := range toProcess {
		fetchURLs[i] = a.URL
	}
	contents := r.fetcher.FetchAll(ctx, fetchURLs)

	if err := ctx.Err(); err != nil {
		return err
	}

	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusGeneratingSummaries
		t.Progress = 75
		t.Message = "Generating summaries..."
	})

	processed := 0
	for i, a := range toProcess {
		if err := ctx.Err(); err != nil {
			return err
		}

		content := contents[a.URL]
		if content == "" {
			// Reader fetch failed, fall back to what NewsAPI gave us.
			content = a.Content
		}
		if utf8.RuneCountInString(content) <= summarizeMinRunes {
			continue
		}

		summary := r.summarizer.Summarize(ctx, a.Title, content)

		if _, err := r.db.InsertArticle(a.URL, a.Title, ptrOrNil(a.Source), &summary, &content, ptrOrNil(a.PublishedDate)); err != nil {
			log.Printf("Indexing article %s failed: %v", a.URL, err)
			continue
		}
		row, err := r.db.GetArticleByURL(a.URL)
		if err != nil || row == nil {
			log.Printf("Reading back article %s failed: %v", a.URL, err)
			continue
		}

		processed++
		wire := wireArticle(row)
		progress := int(75 + float64(i+1)/float64(len(toProcess))*20)
		message := fmt.Sprintf("Processed %d/%d articles", i+1, len(toProcess))
		r.registry.Update(taskID, func(t *search.Task) {
			t.Progress = progress
			t.Message = message
			t.Articles = append(t.Articles, wire)
		})
	}

	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusCompleted
		t.Progress = 100
		t.Message = fmt.Sprintf("Processed %d new articles", processed)
		t.TotalProcessed = processed
		t.TotalFound = len(candidates)
	})
	return nil
}

// completeAllExisting finishes a task whose every candidate URL is
// already in the index. The payload carries up to existingReturnLimit
// of the indexed rows; the message counts all of them.
func (r *Runner) completeAllExisting(taskID string, candidates []collect.NewsArticle, existing map[string]bool) error {
	var indexed []search.Article
	for _, a := range candidates {
		if a.URL == "" || !existing[a.URL] {
			continue
		}
		row, err := r.db.GetArticleByURL(a.URL)
		if err != nil || row == nil {
			continue
		}
		indexed = append(indexed, wireArticle(row))
	}

	payload := indexed
	if len(payload) > existingReturnLimit {
		payload = payload[:existingReturnLimit]
	}

	r.registry.Update(taskID, func(t *search.Task) {
		t.Status = search.StatusCompleted
		t.Progress = 100
		t.Message = fmt.Sprintf("All articles already indexed, returning %d", len(indexed))
		t.Articles = payload
	})
	return nil
}

func wireArticle(row *database.Article) search.Article {
	a := search.Article{
		ID:    strconv.FormatInt(row.ID, 10),
		Title: row.Title,
		URL:   row.URL,
	}
	if row.Summary != nil {
		a.Summary = *row.Summary
	}
	if row.Source != nil {
		a.Source = *row.Source
	}
	if row.CreatedAt != nil {
		a.CreatedAt = *row.CreatedAt
	}
	return a
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
