package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/store"
	"github.com/vrsandeep/mediaflow/internal/util"
)

type sourcePayload struct {
	Locator         string   `json:"locator"`
	Name            string   `json:"name"`
	Thumbnail       string   `json:"thumbnail"`
	FolderPath      *string  `json:"folder_path,omitempty"`
	IntervalMinutes int      `json:"interval_minutes"`
	AutoDownload    bool     `json:"auto_download"`
	Quality         string   `json:"quality"`
	Format          string   `json:"format"`
	MinDuration     int      `json:"min_duration"` // seconds
	MaxDuration     int      `json:"max_duration"` // seconds
	Include         []string `json:"include"`
	Exclude         []string `json:"exclude"`
	MaxItems        int      `json:"max_items"`
}

func (p sourcePayload) source(defaultInterval time.Duration) *models.FollowedSource {
	interval := time.Duration(p.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultInterval
	}
	return &models.FollowedSource{
		Locator:      strings.TrimSpace(p.Locator),
		Name:         p.Name,
		Thumbnail:    p.Thumbnail,
		FolderPath:   p.FolderPath,
		Interval:     interval,
		AutoDownload: p.AutoDownload,
		Quality:      p.Quality,
		Format:       p.Format,
		Filter: models.SourceFilter{
			MinDuration: time.Duration(p.MinDuration) * time.Second,
			MaxDuration: time.Duration(p.MaxDuration) * time.Second,
			Include:     p.Include,
			Exclude:     p.Exclude,
			MaxItems:    p.MaxItems,
		},
	}
}

// validateSource checks user input and sanitizes the folder path in place.
func (s *Server) validateSource(src *models.FollowedSource) error {
	if src.Locator == "" {
		return errors.New("locator is required")
	}
	if err := args.CheckValue("locator", src.Locator); err != nil {
		return err
	}
	if src.Name == "" {
		src.Name = src.Locator
	}
	if src.Filter.MinDuration < 0 || src.Filter.MaxDuration < 0 || src.Filter.MaxItems < 0 {
		return errors.New("filter values must not be negative")
	}
	if src.Filter.MaxDuration > 0 && src.Filter.MinDuration > src.Filter.MaxDuration {
		return errors.New("min_duration is greater than max_duration")
	}

	// Validate folder path if provided
	if src.FolderPath != nil && *src.FolderPath != "" {
		rel, err := util.OutputFolder(s.app.Config().Download.Dir, *src.FolderPath)
		if err != nil {
			return err
		}
		// Store the relative path (not the full path)
		src.FolderPath = &rel
	}
	return nil
}

func sourceIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.GetAllSources()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve sources")
		return
	}
	if sources == nil {
		sources = []*models.FollowedSource{}
	}
	RespondWithJSON(w, http.StatusOK, sources)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var payload sourcePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	src := payload.source(s.app.Config().Polling.DefaultInterval())
	if err := s.validateSource(src); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.store.CreateSource(src)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create source")
		return
	}
	RespondWithJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := sourceIDParam(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}
	existing, err := s.store.GetSourceByID(sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Source not found")
		} else {
			RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve source")
		}
		return
	}

	var payload sourcePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	// The locator identifies the source and cannot change.
	payload.Locator = existing.Locator
	src := payload.source(existing.Interval)
	src.ID = sourceID
	if err := s.validateSource(src); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateSource(src); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to update source")
		return
	}
	updated, err := s.store.GetSourceByID(sourceID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve source")
		return
	}
	RespondWithJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := sourceIDParam(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}
	if err := s.store.DeleteSource(sourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Source not found")
		} else {
			RespondWithError(w, http.StatusInternalServerError, "Failed to delete source")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := sourceIDParam(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}
	if _, err := s.store.GetSourceByID(sourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Source not found")
		} else {
			RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve source")
		}
		return
	}

	// Run the check in a background goroutine so the API call returns immediately.
	go func() {
		if _, err := s.app.Polling().CheckNow(context.Background(), sourceID); err != nil {
			s.app.Logger().Warn("manual source check failed", "source_id", sourceID, "error", err)
		}
	}()

	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Re-check has been initiated."})
}

func (s *Server) handleCheckAllSources(w http.ResponseWriter, r *http.Request) {
	go s.app.Polling().CheckAll(context.Background())
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Re-check of all sources has been initiated."})
}

func (s *Server) handleListSourceItems(w http.ResponseWriter, r *http.Request) {
	sourceID, err := sourceIDParam(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.store.GetDiscoveredItems(sourceID, limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve items")
		return
	}
	if items == nil {
		items = []*models.DiscoveredItem{}
	}
	RespondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetPolling(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]bool{"enabled": s.app.Polling().Enabled()})
}

func (s *Server) handleSetPolling(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	s.app.Polling().SetEnabled(*payload.Enabled)
	RespondWithJSON(w, http.StatusOK, map[string]bool{"enabled": s.app.Polling().Enabled()})
}
