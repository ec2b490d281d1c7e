package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synapse-notes/synapse/pkg/models"
)

// CreateNote handles POST /api/notes. The note is chunked and embedded
// before the call returns so search sees it immediately.
func (s *Server) CreateNote(c *gin.Context) {
	var req models.CreateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	note, err := s.store.CreateNote(c.Request.Context(), req.Title, req.Content)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.embedder.UpsertNote(c.Request.Context(), note); err != nil {
		slog.Error("Indexing created note", "note_id", note.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to index note"})
		return
	}

	c.JSON(http.StatusCreated, note)
}

// ListNotes handles GET /api/notes. A limit query parameter caps the
// result; omitted or non-positive means all notes, newest first.
func (s *Server) ListNotes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	notes, err := s.store.GetNotes(c.Request.Context(), limit)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if notes == nil {
		notes = []*models.Note{}
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

// GetNote handles GET /api/notes/:id.
func (s *Server) GetNote(c *gin.Context) {
	note, err := s.store.GetNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// UpdateNote handles PUT /api/notes/:id. Changed content is re-chunked
// and re-embedded; the previous chunks leave the index atomically with
// the swap.
func (s *Server) UpdateNote(c *gin.Context) {
	var req models.UpdateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	note, err := s.store.UpdateNote(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.embedder.UpsertNote(c.Request.Context(), note); err != nil {
		slog.Error("Re-indexing updated note", "note_id", note.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to index note"})
		return
	}

	c.JSON(http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/:id. Index entries go first so a
// failed row delete cannot leave dangling vectors.
func (s *Server) DeleteNote(c *gin.Context) {
	id := c.Param("id")
	if err := s.embedder.RemoveNote(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	if err := s.store.DeleteNote(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetChunk handles GET|POST /api/chunks/:id, resolving a chunk id from an
// evidence reference to its text and owning note.
func (s *Server) GetChunk(c *gin.Context) {
	view, err := s.store.GetChunkView(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// SearchResult is one ranked hit of the search endpoint.
type SearchResult struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
	Rank   int    `json:"rank"`
}

// Search handles POST /api/search with the same hybrid lexical+vector
// fusion the pipeline uses for candidate selection.
func (s *Server) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultSearchTopK
	}

	ids, err := s.searcher.Search(c.Request.Context(), []string{req.Query}, "", req.TopK)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	results := make([]SearchResult, 0, len(ids))
	for rank, id := range ids {
		note, err := s.store.GetNote(c.Request.Context(), id)
		if err != nil {
			// The note may have been deleted since indexing.
			slog.Warn("Dropping stale search hit", "note_id", id, "error", err)
			continue
		}
		results = append(results, SearchResult{NoteID: note.ID, Title: note.Title, Rank: rank + 1})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
