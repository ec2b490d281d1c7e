// Package api exposes the HTTP surface: note management, job control
// with SSE progress, hybrid search, and thin LLM utility endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synapse-notes/synapse/pkg/database"
	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

const (
	// healthTimeout bounds the database round trip of the health check.
	healthTimeout = 5 * time.Second
	// defaultEventsPollInterval is how often the SSE endpoint samples job
	// state between pushes.
	defaultEventsPollInterval = 250 * time.Millisecond
	// defaultSearchTopK applies when a search request omits top_k.
	defaultSearchTopK = 10
)

// NoteStore is the persistence surface the handlers need.
type NoteStore interface {
	CreateNote(ctx context.Context, title, content string) (*models.Note, error)
	UpdateNote(ctx context.Context, id string, req models.UpdateNoteRequest) (*models.Note, error)
	DeleteNote(ctx context.Context, id string) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	GetNotes(ctx context.Context, limit int) ([]*models.Note, error)
	GetChunkView(ctx context.Context, chunkID string) (*models.ChunkView, error)
}

// Embedder keeps the vector index and chunk store in sync with notes.
type Embedder interface {
	UpsertNote(ctx context.Context, note *models.Note) error
	RemoveNote(ctx context.Context, noteID string) error
}

// Searcher answers hybrid retrieval queries.
type Searcher interface {
	Search(ctx context.Context, queries []string, excludeNoteID string, topK int) ([]string, error)
}

// Launcher starts a background pipeline run for a created job, shaped by
// an optional prescription.
type Launcher interface {
	Launch(ctx context.Context, jobID, sourceNoteID string, rx *models.Prescription) <-chan struct{}
}

// Server is the HTTP server. The db client is optional; without it the
// health endpoint reports only process liveness.
type Server struct {
	store    NoteStore
	embedder Embedder
	searcher Searcher
	jobs     *jobs.Store
	launcher Launcher
	router   *llm.Router
	db       *database.Client

	// eventsPollInterval is overridable for tests.
	eventsPollInterval time.Duration
}

// NewServer wires an API server.
func NewServer(store NoteStore, embedder Embedder, searcher Searcher, jobStore *jobs.Store, launcher Launcher, router *llm.Router, db *database.Client) *Server {
	return &Server{
		store:              store,
		embedder:           embedder,
		searcher:           searcher,
		jobs:               jobStore,
		launcher:           launcher,
		router:             router,
		db:                 db,
		eventsPollInterval: defaultEventsPollInterval,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.Health)

	api := engine.Group("/api")
	{
		api.POST("/generate-insights", s.GenerateInsights)
		api.GET("/jobs/:id", s.GetJob)
		api.POST("/jobs/:id/cancel", s.CancelJob)
		api.GET("/jobs/:id/events", s.JobEvents)

		api.GET("/chunks/:id", s.GetChunk)
		api.POST("/chunks/:id", s.GetChunk)

		api.POST("/notes", s.CreateNote)
		api.GET("/notes", s.ListNotes)
		api.GET("/notes/:id", s.GetNote)
		api.PUT("/notes/:id", s.UpdateNote)
		api.DELETE("/notes/:id", s.DeleteNote)

		api.POST("/search", s.Search)

		api.POST("/llm/route", s.RouteLLM)
		api.POST("/llm/embed", s.EmbedLLM)
		api.POST("/llm/stream", s.StreamLLM)
		api.GET("/metrics/llm", s.LLMMetrics)
	}

	return engine
}

// Health handles GET /healthz.
func (s *Server) Health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, err := database.Health(ctx, s.db.Pool())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
