package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/downloader"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/models"
)

type downloadPayload struct {
	Locator        string              `json:"locator"`
	Title          string              `json:"title"`
	Quality        string              `json:"quality"`
	Format         string              `json:"format"`
	Codec          string              `json:"codec"`
	Subtitles      models.SubtitleMode `json:"subtitles"`
	SubtitleLangs  []string            `json:"subtitle_langs"`
	Playlist       bool                `json:"playlist"`
	PlaylistStart  int                 `json:"playlist_start"`
	PlaylistEnd    int                 `json:"playlist_end"`
	OutputTemplate string              `json:"output_template"`
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var payload downloadPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req := models.JobRequest{
		Kind:           models.JobKindDownload,
		Locator:        payload.Locator,
		Title:          payload.Title,
		Quality:        payload.Quality,
		Format:         payload.Format,
		Codec:          payload.Codec,
		Subtitles:      payload.Subtitles,
		SubtitleLangs:  payload.SubtitleLangs,
		Playlist:       payload.Playlist,
		PlaylistStart:  payload.PlaylistStart,
		PlaylistEnd:    payload.PlaylistEnd,
		OutputDir:      s.app.Config().Download.Dir,
		OutputTemplate: payload.OutputTemplate,
		SourceTag:      "manual",
	}
	if req.OutputTemplate == "" {
		req.OutputTemplate = s.app.Config().Download.OutputTemplate
	}
	// Reject anything the downloader would be handed unsafely before queueing.
	if _, err := args.BuildDownload(req, args.NetworkPolicy{}); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, req)
}

func (s *Server) handleCreateTranscode(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Input     string `json:"input"`
		Output    string `json:"output"`
		OutputDir string `json:"output_dir"`
		Format    string `json:"format"`
		Codec     string `json:"codec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req := models.JobRequest{
		Kind:      models.JobKindTranscode,
		Locator:   payload.Input,
		Output:    payload.Output,
		OutputDir: payload.OutputDir,
		Format:    payload.Format,
		Codec:     payload.Codec,
		SourceTag: "manual",
	}
	if _, err := args.BuildTranscode(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, req)
}

func (s *Server) submit(w http.ResponseWriter, req models.JobRequest) {
	id, err := s.app.Worker().Submit(req)
	switch {
	case errors.Is(err, downloader.ErrQueueFull), errors.Is(err, downloader.ErrWorkerStopped):
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.app.Worker().Cancel(jobID) {
		RespondWithError(w, http.StatusNotFound, "Job not found or already finished")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Cancellation requested."})
}

func (s *Server) handleGetJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slots":  s.app.Slots().GetStatus(),
		"queued": s.app.Worker().Queued(),
		"paused": s.app.Worker().IsPaused(),
	})
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	switch payload.Action {
	case "pause":
		s.app.Worker().Pause()
	case "resume":
		s.app.Worker().Resume()
	default:
		RespondWithError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"paused": s.app.Worker().IsPaused()})
}

// handleRunAdminJob starts a maintenance job by name.
func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var task jobs.Task
	switch payload.JobName {
	case jobs.JobHistoryPrune:
		days := s.app.Config().History.RetentionDays
		if days <= 0 {
			RespondWithError(w, http.StatusBadRequest, "History retention is disabled")
			return
		}
		task = func() (models.JobStatus, string) {
			return jobs.PruneHistory(s.app, time.Now().AddDate(0, 0, -days))
		}
	case jobs.JobBinaryReprobe:
		task = func() (models.JobStatus, string) {
			return jobs.ReprobeBinaries(context.Background(), s.app)
		}
	default:
		RespondWithError(w, http.StatusNotFound, "Unknown job: "+payload.JobName)
		return
	}

	err := s.app.Slots().Run(jobs.SlotMaintenance, payload.JobName, nil, task)
	if err != nil {
		RespondWithError(w, http.StatusConflict, err.Error()) // 409 Conflict if a job is already running
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}
