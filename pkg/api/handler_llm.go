package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapse-notes/synapse/pkg/llm"
)

// RouteLLMRequest is the body of POST /api/llm/route.
type RouteLLMRequest struct {
	Task        string        `json:"task" binding:"required"`
	Messages    []llm.Message `json:"messages" binding:"required"`
	Temperature *float32      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// RouteLLM handles POST /api/llm/route, a thin pass-through to the model
// router for debugging prompts against the configured provider chain.
func (s *Server) RouteLLM(c *gin.Context) {
	var req RouteLLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	completion, err := s.router.Route(c.Request.Context(), req.Task, req.Messages, &llm.Options{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeLLMError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content":       completion.Content,
		"provider":      completion.Provider,
		"model":         completion.Model,
		"input_tokens":  completion.InputTokens,
		"output_tokens": completion.OutputTokens,
	})
}

// EmbedLLMRequest is the body of POST /api/llm/embed.
type EmbedLLMRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

// EmbedLLM handles POST /api/llm/embed.
func (s *Server) EmbedLLM(c *gin.Context) {
	var req EmbedLLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vectors, err := s.router.Embed(c.Request.Context(), req.Texts)
	if err != nil {
		writeLLMError(c, err)
		return
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	c.JSON(http.StatusOK, gin.H{"embeddings": vectors, "dimension": dim})
}

// StreamLLM handles POST /api/llm/stream, relaying router tokens as
// server-sent events. Each token is one data frame; the final frame
// carries done=true and the full text.
func (s *Server) StreamLLM(c *gin.Context) {
	var req RouteLLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := s.router.Stream(c.Request.Context(), req.Task, req.Messages, &llm.Options{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeLLMError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event := range events {
		frame, err := json.Marshal(event)
		if err != nil {
			return
		}
		if !writeSSE(c.Writer, frame) {
			return
		}
	}
}

// LLMMetrics handles GET /api/metrics/llm. The reset query parameter
// zeroes the counters after the snapshot is taken.
func (s *Server) LLMMetrics(c *gin.Context) {
	reset := c.Query("reset") == "1"
	c.JSON(http.StatusOK, s.router.Usage().Snapshot(reset))
}
