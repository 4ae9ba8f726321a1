package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	newsAPIEverythingURL = "https://newsapi.org/v2/everything"
	newsAPIHeadlinesURL  = "https://newsapi.org/v2/top-headlines"
)

// NewsArticle represents an article from NewsAPI.
type NewsArticle struct {
	URL           string
	Title         string
	PublishedDate string
	Content       string
	Source        string
}

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey   string
	language string
	client   *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client. An empty language
// searches across all languages.
func NewNewsAPIClient(apiKeyEnv, language string) *NewsAPIClient {
	return &NewsAPIClient{
		apiKey:   os.Getenv(apiKeyEnv),
		language: language,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search searches the everything endpoint for articles matching a
// query within the last daysBack days, newest first.
func (c *NewsAPIClient) Search(ctx context.Context, query string, daysBack, pageSize int) ([]NewsArticle, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key not set")
	}

	fromDate := time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")
	toDate := time.Now().Format("2006-01-02")

	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {query},
		"from":     {fromDate},
		"to":       {toDate},
		"pageSize": {fmt.Sprintf("%d", pageSize)},
		"sortBy":   {"publishedAt"},
	}
	if c.language != "" {
		params.Set("language", c.language)
	}

	return c.fetch(ctx, newsAPIEverythingURL+"?"+params.Encode())
}

// TopHeadlines fetches the top-headlines endpoint for a country and
// optional category.
func (c *NewsAPIClient) TopHeadlines(ctx context.Context, country, category string, pageSize int) ([]NewsArticle, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key not set")
	}

	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"country":  {country},
		"pageSize": {fmt.Sprintf("%d", pageSize)},
	}
	if category != "" {
		params.Set("category", category)
	}

	return c.fetch(ctx, newsAPIHeadlinesURL+"?"+params.Encode())
}

func (c *NewsAPIClient) fetch(ctx context.Context, requestURL string) ([]NewsArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building NewsAPI request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NewsAPI HTTP %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("NewsAPI decode: %w", err)
	}

	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %q: %s", result.Status, result.Message)
	}

	var articles []NewsArticle
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var pubDate string
		if a.PublishedAt != "" {
			t, err := time.Parse(time.RFC3339, a.PublishedAt)
			if err == nil {
				pubDate = t.Format("2006-01-02")
			}
		}

		content := a.Content
		if content == "" {
			content = a.Description
		}
		content = strings.TrimSpace(content)

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		articles = append(articles, NewsArticle{
			URL:           a.URL,
			Title:         strings.TrimSpace(a.Title),
			PublishedDate: pubDate,
			Content:       content,
			Source:        source,
		})
	}

	return articles, nil
}
