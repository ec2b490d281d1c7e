package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synapse-notes/synapse/pkg/models"
)

// GenerateInsightsRequest triggers an insight-generation job. The
// optional prescription shapes retrieval depth, synthesis mode, and
// verification for this run.
type GenerateInsightsRequest struct {
	SourceNoteID string               `json:"source_note_id" binding:"required"`
	Prescription *models.Prescription `json:"prescription"`
}

// GenerateInsights handles POST /api/generate-insights. The job is
// accepted immediately; the pipeline runs in the background and errors
// (including an unknown source note) surface on the job record.
func (s *Server) GenerateInsights(c *gin.Context) {
	var req GenerateInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := s.jobs.Create()
	// Detached from the request context: the run outlives the trigger call.
	s.launcher.Launch(context.Background(), job.JobID, req.SourceNoteID, req.Prescription)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   job.JobID,
		"trace_id": job.TraceID,
	})
}

// GetJob handles GET /api/jobs/:id.
func (s *Server) GetJob(c *gin.Context) {
	view, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelJob handles POST /api/jobs/:id/cancel. Cancelling a terminal job
// is a no-op that still returns the current view.
func (s *Server) CancelJob(c *gin.Context) {
	view, ok := s.jobs.Cancel(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// JobEvents handles GET /api/jobs/:id/events. It streams job snapshots as
// server-sent events: one frame per observable change, closing after the
// terminal snapshot has been sent.
func (s *Server) JobEvents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.jobs.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(s.eventsPollInterval)
	defer ticker.Stop()

	var last []byte
	for {
		view, ok := s.jobs.Get(id)
		if !ok {
			// Evicted mid-stream.
			return
		}
		frame, err := json.Marshal(view)
		if err != nil {
			slog.Error("Marshaling job snapshot", "job_id", id, "error", err)
			return
		}
		if !bytes.Equal(frame, last) {
			if !writeSSE(c.Writer, frame) {
				return
			}
			last = frame
		}
		if view.Status.Terminal() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// writeSSE emits one data frame and flushes; false means the client went
// away.
func writeSSE(w io.Writer, data []byte) bool {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return true
}
