package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/agentbridge/internal/journal"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	resp := HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		InFlight:       stats.InFlight,
		Waiting:        stats.Waiting,
		Conversations:  stats.Conversations,
		MaxConcurrent:  stats.MaxConcurrent,
		JournalEnabled: s.store != nil,
	}

	if s.store != nil {
		counts, err := s.store.Counts(r.Context())
		if err != nil {
			s.logger.Error("failed to count journaled requests", "error", err)
		} else {
			resp.Requests = make(map[string]int, len(counts))
			for status, n := range counts {
				resp.Requests[string(status)] = n
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "request journal is disabled")
		return
	}

	filter := journal.Filter{
		ConversationID: r.URL.Query().Get("conversation"),
		Status:         journal.Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list requests", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	resp := RequestListResponse{Requests: make([]RequestView, 0, len(entries))}
	for _, e := range entries {
		resp.Requests = append(resp.Requests, toView(e, false))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "request journal is disabled")
		return
	}

	id := chi.URLParam(r, "requestID")
	entry, err := s.store.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get request", "request_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	respondJSON(w, http.StatusOK, toView(*entry, true))
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
