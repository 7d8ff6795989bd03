package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vrsandeep/mediaflow/internal/api"
	"github.com/vrsandeep/mediaflow/internal/core"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/models"
)

var version = "dev"

func main() {
	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		slog.Error("fatal error during application setup", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.Version = version
	logger := app.Logger()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Background components: progress hub, download worker, polling engine
	// and the maintenance scheduler.
	app.Start(ctx)

	go func() {
		if status, msg := jobs.ReprobeBinaries(ctx, app); status != models.JobStatusFinished {
			logger.Warn("external tools not ready", "detail", msg)
		}
	}()

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("starting web server", "addr", httpServer.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Stop taking jobs; running ones are cancelled through ctx.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	for _, slot := range []string{jobs.SlotDownload, jobs.SlotTranscode} {
		if err := app.Slots().WaitIdle(shutdownCtx, slot); err != nil {
			logger.Warn("slot still busy at exit", "slot", slot, "error", err)
		}
	}

	logger.Info("server exiting")
}
