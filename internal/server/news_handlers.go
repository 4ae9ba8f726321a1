package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/TobiSchelling/newswave/internal/collect"
	"github.com/TobiSchelling/newswave/internal/search"
)

func (s *Server) handleRecentNews(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := s.db.RecentArticles(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	articles := make([]search.Article, 0, len(rows))
	for i := range rows {
		articles = append(articles, wireArticle(&rows[i]))
	}
	respondJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "articleID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusNotFound, "News not found")
		return
	}

	row, err := s.db.GetArticleByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "News not found")
		return
	}
	respondJSON(w, http.StatusOK, wireArticle(row))
}

type fetchNewsRequest struct {
	Query string `json:"query"`
}

// handleFetchNews fetches and indexes a small batch synchronously, for
// manual refreshes from the dashboard or CLI.
func (s *Server) handleFetchNews(w http.ResponseWriter, r *http.Request) {
	var req fetchNewsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Query == "" {
		req.Query = s.cfg.Search.DefaultQuery
	}

	candidates, err := s.source.Search(r.Context(), req.Query, s.cfg.Search.WindowDays, syncBatchSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(candidates) == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{"message": "No articles found"})
		return
	}

	processed := s.indexArticles(r.Context(), candidates)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("Successfully processed %d new articles", processed),
		"total_articles": len(candidates),
		"processed":      processed,
	})
}

type headlinesRequest struct {
	Country   string `json:"country"`
	Category  string `json:"category"`
	UseSearch *bool  `json:"use_search"`
}

// handleFetchHeadlines indexes current headlines. NewsAPI has no
// Taiwan country code, so by default this searches instead of using
// the top-headlines endpoint.
func (s *Server) handleFetchHeadlines(w http.ResponseWriter, r *http.Request) {
	var req headlinesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	useSearch := req.UseSearch == nil || *req.UseSearch

	var candidates []collect.NewsArticle
	var err error
	if useSearch {
		candidates, err = s.source.Search(r.Context(), "Taiwan OR 台灣", s.cfg.Search.WindowDays, syncBatchSize)
	} else {
		country := req.Country
		if country == "" {
			country = s.cfg.Sources.NewsAPI.Country
		}
		candidates, err = s.source.TopHeadlines(r.Context(), country, req.Category, syncBatchSize)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(candidates) == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{"message": "No headlines found"})
		return
	}

	processed := s.indexArticles(r.Context(), candidates)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("Successfully processed %d headlines", processed),
		"total_articles": len(candidates),
		"processed":      processed,
	})
}

// indexArticles runs the fetch-content/summarize/insert loop for the
// synchronous endpoints. Already-indexed URLs are skipped; the return
// value counts fresh inserts.
func (s *Server) indexArticles(ctx context.Context, candidates []collect.NewsArticle) int {
	urls := make([]string, 0, len(candidates))
	for _, a := range candidates {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	existing, err := s.db.ExistingURLs(urls)
	if err != nil {
		log.Printf("Checking existing URLs: %v", err)
		return 0
	}

	var toProcess []collect.NewsArticle
	for _, a := range candidates {
		if a.URL == "" || existing[a.URL] {
			continue
		}
		toProcess = append(toProcess, a)
	}
	if len(toProcess) == 0 {
		return 0
	}

	fetchURLs := make([]string, len(toProcess))
	for i, a := range toProcess {
		fetchURLs[i] = a.URL
	}
	contents := s.fetcher.FetchAll(ctx, fetchURLs)

	processed := 0
	for _, a := range toProcess {
		content := contents[a.URL]
		if content == "" {
			content = a.Content
		}
		if utf8.RuneCountInString(content) <= 50 {
			continue
		}

		summary := s.summarizer.Summarize(ctx, a.Title, content)
		if _, err := s.db.InsertArticle(a.URL, a.Title, optional(a.Source), &summary, &content, optional(a.PublishedDate)); err != nil {
			log.Printf("Indexing article %s failed: %v", a.URL, err)
			continue
		}
		processed++
	}
	return processed
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
