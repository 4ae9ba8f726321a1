// Package server exposes the HTTP API and the dashboard.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TobiSchelling/newswave/internal/collect"
	"github.com/TobiSchelling/newswave/internal/config"
	"github.com/TobiSchelling/newswave/internal/database"
	"github.com/TobiSchelling/newswave/internal/search"
	"github.com/TobiSchelling/newswave/internal/summarize"
	"github.com/TobiSchelling/newswave/internal/task"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Page size for the synchronous fetch and headlines endpoints.
const syncBatchSize = 5

// NewsSource provides article candidates from the news API.
type NewsSource interface {
	Search(ctx context.Context, query string, daysBack, pageSize int) ([]collect.NewsArticle, error)
	TopHeadlines(ctx context.Context, country, category string, pageSize int) ([]collect.NewsArticle, error)
}

// Server is the HTTP server for the search API and dashboard.
type Server struct {
	cfg        *config.Config
	db         *database.DB
	registry   *task.Registry
	runner     *task.Runner
	source     NewsSource
	fetcher    task.Fetcher
	summarizer *summarize.Summarizer
	router     chi.Router
	pages      map[string]*template.Template
}

// New creates a Server wired to the given collaborators. The task
// registry and pipeline runner live inside the server; every background
// search it spawns runs in this process and is forgotten on restart.
func New(cfg *config.Config, db *database.DB, source NewsSource, fetcher task.Fetcher, summarizer *summarize.Summarizer) (*Server, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	registry := task.NewRegistry()
	runner := task.NewRunner(registry, db, source, fetcher, summarizer, cfg.Search.WindowDays)

	s := &Server{
		cfg:        cfg,
		db:         db,
		registry:   registry,
		runner:     runner,
		source:     source,
		fetcher:    fetcher,
		summarizer: summarizer,
		pages:      pages,
	}
	s.router = s.routes()
	return s, nil
}

func parseTemplates() (map[string]*template.Template, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"index.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}
	return pages, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/news/search/async", s.handleStartSearch)
		r.Get("/news/search/status/{taskID}", s.handleSearchStatus)
		r.Post("/news/search/paginated", s.handlePaginatedSearch)
		r.Get("/news/search/tasks", s.handleListTasks)
		r.Delete("/news/search/tasks/{taskID}", s.handleCancelTask)

		r.Get("/news", s.handleRecentNews)
		r.Get("/news/{articleID}", s.handleGetArticle)
		r.Post("/news/fetch", s.handleFetchNews)
		r.Post("/news/headlines", s.handleFetchHeadlines)

		r.Get("/rss", s.handleRSS)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Serve runs the server until SIGINT or SIGTERM, then shuts down
// gracefully, giving in-flight requests five seconds to finish.
// Background search tasks are not awaited; their state is ephemeral.
func (s *Server) Serve(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{Addr: addr, Handler: s.router}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-shutdownCh:
		log.Println("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Println("Server shutdown completed")
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON fills v from the request body. An empty body is fine, the
// handlers fall back to their defaults.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
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
