// Synapse server — serves the note corpus over HTTP and runs the
// insight-generation pipeline against it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/synapse-notes/synapse/pkg/api"
	"github.com/synapse-notes/synapse/pkg/config"
	"github.com/synapse-notes/synapse/pkg/database"
	"github.com/synapse-notes/synapse/pkg/embedding"
	"github.com/synapse-notes/synapse/pkg/evolution"
	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/pipeline"
	"github.com/synapse-notes/synapse/pkg/ranking"
	"github.com/synapse-notes/synapse/pkg/retrieval"
	"github.com/synapse-notes/synapse/pkg/synthesis"
	"github.com/synapse-notes/synapse/pkg/vectorindex"
	"github.com/synapse-notes/synapse/pkg/verifier"
	"github.com/synapse-notes/synapse/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"error", err)
	}

	cfg := config.Load()
	slog.Info("Starting Synapse",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir)

	ctx := context.Background()

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// Vector index, restored from disk when present
	index, err := vectorindex.Open(cfg.VectorDim, cfg.VectorIndexPath, cfg.VectorMappingPath)
	if err != nil {
		slog.Error("Failed to open vector index", "error", err)
		os.Exit(1)
	}

	// LLM router and claim verifier
	router := llm.NewRouter(llm.ConfigFromEnv())
	if !router.HasProvider() {
		slog.Warn("No LLM provider configured, pipeline runs degrade to cheap fallbacks")
	}
	claimVerifier := verifier.FromEnv(os.Getenv("SERPAPI_API_KEY"))
	if claimVerifier.Enabled() {
		slog.Info("Web verification enabled")
	}

	// Domain services
	noteStore := database.NewNoteStore(dbClient.Pool())
	embedder := embedding.NewService(noteStore, index, router)
	searcher := retrieval.NewSearcher(noteStore, index, router)
	engine := synthesis.NewEngine(router, noteStore, searcher)
	ranker := ranking.NewRanker(router)
	refiner := evolution.NewRefiner(router)

	// Job store and pipeline
	jobStore := jobs.NewStore(jobs.DefaultTTL)
	orchestrator := pipeline.NewOrchestrator(noteStore, searcher, engine, ranker, refiner, claimVerifier, jobStore)
	runner := pipeline.NewRunner(orchestrator, jobStore, router.Usage())

	evictCtx, stopEvict := context.WithCancel(ctx)
	defer stopEvict()
	go jobStore.RunEvictLoop(evictCtx, jobs.DefaultEvictInterval)

	// HTTP server
	server := api.NewServer(noteStore, embedder, searcher, jobStore, runner, router, dbClient)
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Persist the vector index so restarts resume where we left off.
	if err := index.Save(); err != nil {
		slog.Error("Failed to save vector index", "error", err)
	}

	slog.Info("Shutdown complete")
}
