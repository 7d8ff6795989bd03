// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vrsandeep/mediaflow/internal/core"
	"github.com/vrsandeep/mediaflow/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	store *store.Store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		store: app.Store(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer) // Recovers from panics

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleGetVersion)

		// Job Routes
		r.Post("/downloads", s.handleCreateDownload)
		r.Post("/transcodes", s.handleCreateTranscode)
		r.Get("/jobs/status", s.handleGetJobsStatus)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Post("/jobs/queue/action", s.handleQueueAction)

		// History Routes
		r.Get("/history", s.handleGetHistory)
		r.Put("/history/{entryID}/summary", s.handleUpdateHistorySummary)

		// Followed Source Routes
		r.Get("/sources", s.handleListSources)
		r.Post("/sources", s.handleCreateSource)
		r.Post("/sources/check-all", s.handleCheckAllSources)
		r.Put("/sources/{sourceID}", s.handleUpdateSource)
		r.Delete("/sources/{sourceID}", s.handleDeleteSource)
		r.Post("/sources/{sourceID}/check", s.handleCheckSource)
		r.Get("/sources/{sourceID}/items", s.handleListSourceItems)

		r.Get("/polling", s.handleGetPolling)
		r.Post("/polling", s.handleSetPolling)

		// Maintenance
		r.Post("/admin/jobs/run", s.handleRunAdminJob)
		r.Get("/admin/binaries", s.handleGetBinaries)
	})

	// WebSocket route
	r.Get("/ws/progress", func(w http.ResponseWriter, r *http.Request) {
		s.app.WsHub().ServeWs(w, r)
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.app.Gatherer(), promhttp.HandlerOpts{}))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB().Ping(); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
