package api

import (
	"net/http"
	"time"

	"github.com/fidde/herd_weight_dashboard/internal/access"
	"github.com/fidde/herd_weight_dashboard/internal/metrics"
	"github.com/fidde/herd_weight_dashboard/internal/query"
	"github.com/fidde/herd_weight_dashboard/internal/suggest"
)

// SuggestionsResponse pairs the caller's history with generated terms.
type SuggestionsResponse struct {
	History     []string `json:"history"`
	Suggestions []string `json:"suggestions"`
}

// search filters the caller's visible records and returns one page.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	user, err := s.caller(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	values := r.URL.Query()
	filter, err := query.ParseFilter(values)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, pageSize, err := query.ParsePage(values)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if values.Get("pageSize") == "" && s.defaultPageSize > 0 {
		pageSize = s.defaultPageSize
	}

	if filter.Text != "" {
		s.histories.For(user.Username).Record(filter.Text)
	}

	visible := access.Scope(s.records.ListAll(), user)
	s.respondJSON(w, http.StatusOK, query.Paginate(query.Apply(visible, filter), pageSize, page))
}

// getSuggestions asks the generator for terms based on the caller's
// history and recent activity. Generator failures yield no suggestions.
func (s *Server) getSuggestions(w http.ResponseWriter, r *http.Request) {
	user, err := s.caller(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	history := s.histories.For(user.Username).Terms()
	if history == nil {
		history = []string{}
	}
	summary := suggest.Summarize(access.Scope(s.records.ListAll(), user), s.now())

	s.respondJSON(w, http.StatusOK, SuggestionsResponse{
		History:     history,
		Suggestions: s.suggestions.FetchSuggestions(r.Context(), history, summary),
	})
}
