package collect

import (
	"context"
	"log"

	"github.com/TobiSchelling/newswave/internal/config"
	"github.com/TobiSchelling/newswave/internal/database"
)

const summaryPreviewLen = 300

// Result holds the results of a collection run.
type Result struct {
	TotalFound  int
	NewArticles int
	Duplicates  int
	Sources     map[string]int
}

// Collector seeds the article index from RSS feeds and, optionally,
// NewsAPI. Seeded articles keep their source-provided descriptions as
// summaries; the background search pipeline is what generates LLM
// summaries.
type Collector struct {
	db         *database.DB
	feedParser *FeedParser
	newsClient *NewsAPIClient
	daysBack   int
}

// NewCollector creates a new article collector.
func NewCollector(cfg *config.Config, db *database.DB, daysBack int) *Collector {
	c := &Collector{
		db:       db,
		daysBack: daysBack,
	}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	c.newsClient = NewNewsAPIClient(cfg.Sources.NewsAPI.APIKeyEnv, cfg.Sources.NewsAPI.Language)

	return c
}

// Collect pulls articles from all configured feeds. When query is
// non-empty and NewsAPI is configured, a keyword search is collected
// as well.
func (c *Collector) Collect(ctx context.Context, query string) *Result {
	r := &Result{Sources: make(map[string]int)}

	if c.feedParser != nil {
		log.Println("Collecting from RSS feeds...")
		entries := c.feedParser.ParseAll(ctx, c.daysBack)
		r.TotalFound += len(entries)

		for _, entry := range entries {
			c.insertEntry(r, entry.URL, entry.Title, entry.Source, entry.Description, entry.PublishedDate)
		}
	}

	if query != "" && c.newsClient.IsConfigured() {
		log.Printf("Collecting from NewsAPI for query: %s", query)
		articles, err := c.newsClient.Search(ctx, query, c.daysBack, 100)
		if err != nil {
			log.Printf("NewsAPI collection failed: %v", err)
		}
		r.TotalFound += len(articles)

		for _, a := range articles {
			c.insertEntry(r, a.URL, a.Title, a.Source, a.Content, a.PublishedDate)
		}
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates", r.TotalFound, r.NewArticles, r.Duplicates)
	return r
}

// CollectHeadlines pulls top headlines for a country into the index.
func (c *Collector) CollectHeadlines(ctx context.Context, country, category string) (*Result, error) {
	r := &Result{Sources: make(map[string]int)}

	articles, err := c.newsClient.TopHeadlines(ctx, country, category, 100)
	if err != nil {
		return nil, err
	}
	r.TotalFound = len(articles)

	for _, a := range articles {
		c.insertEntry(r, a.URL, a.Title, a.Source, a.Content, a.PublishedDate)
	}

	log.Printf("Headlines complete: %d found, %d new, %d duplicates", r.TotalFound, r.NewArticles, r.Duplicates)
	return r, nil
}

func (c *Collector) insertEntry(r *Result, url, title, source, description, publishedDate string) {
	var sourcePtr, summaryPtr, contentPtr, pubPtr *string
	if source != "" {
		sourcePtr = &source
	}
	if description != "" {
		preview := truncateRunes(description, summaryPreviewLen)
		summaryPtr = &preview
		contentPtr = &description
	}
	if publishedDate != "" {
		pubPtr = &publishedDate
	}

	id, _ := c.db.InsertArticle(url, title, sourcePtr, summaryPtr, contentPtr, pubPtr)
	if id > 0 {
		r.NewArticles++
		r.Sources[source]++
	} else {
		r.Duplicates++
	}
}

// truncateRunes shortens s to at most n runes. Descriptions are often
// CJK text, so byte slicing would split characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
