package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/store"
)

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, err := s.store.GetHistory(q.Get("status"), limit, offset)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	RespondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpdateHistorySummary(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid history entry ID")
		return
	}
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := s.store.UpdateSummary(entryID, payload.Summary); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "History entry not found")
		} else {
			RespondWithError(w, http.StatusInternalServerError, "Failed to update summary")
		}
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Summary updated."})
}
