package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TobiSchelling/newswave/internal/search"
)

type startSearchRequest struct {
	Query    string `json:"query"`
	PageSize int    `json:"page_size"`
}

// handleStartSearch spawns a background search task and returns 202
// with the URL to poll.
func (s *Server) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	var req startSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Query == "" {
		req.Query = s.cfg.Search.DefaultQuery
	}
	if req.PageSize <= 0 {
		req.PageSize = s.cfg.Search.BackgroundPageSize
	}

	id := s.runner.Start(req.Query, req.PageSize)

	respondJSON(w, http.StatusAccepted, search.StartResponse{
		TaskID:   id,
		Status:   search.StatusStarted,
		Message:  fmt.Sprintf("Started search for %q", req.Query),
		CheckURL: "/api/news/search/status/" + id,
	})
}

func (s *Server) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	t, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

type paginatedSearchRequest struct {
	Query   string `json:"query"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// handlePaginatedSearch answers immediately from the index and spawns a
// background search when the index alone cannot fill the page.
func (s *Server) handlePaginatedSearch(w http.ResponseWriter, r *http.Request) {
	var req paginatedSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Query == "" {
		req.Query = s.cfg.Search.DefaultQuery
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = s.cfg.Search.PerPage
	}

	rows, err := s.db.SearchArticles(req.Query, req.PerPage)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	articles := make([]search.Article, 0, len(rows))
	for i := range rows {
		articles = append(articles, wireArticle(&rows[i]))
	}

	var backgroundID string
	if len(articles) < req.PerPage {
		backgroundID = s.runner.Start(req.Query, s.cfg.Search.BackgroundPageSize)
	}

	var taskID *string
	if backgroundID != "" {
		taskID = &backgroundID
	}
	if err := s.db.RecordSearch(req.Query, len(articles), taskID); err != nil {
		log.Printf("Recording search history: %v", err)
	}

	message := fmt.Sprintf("Returning %d articles immediately", len(articles))
	if backgroundID != "" {
		message += ", searching for more in the background"
	}

	respondJSON(w, http.StatusOK, search.PaginatedResult{
		Articles:         articles,
		Page:             req.Page,
		PerPage:          req.PerPage,
		TotalImmediate:   len(articles),
		BackgroundTaskID: backgroundID,
		Message:          message,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.registry.List()
	respondJSON(w, http.StatusOK, search.TaskList{Tasks: tasks, Total: len(tasks)})
}

// handleCancelTask is best effort: the pipeline stops at its next
// checkpoint, and cancelling an already finished task succeeds without
// changing it.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if !s.registry.Cancel(id) {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Task cancelled"})
}
