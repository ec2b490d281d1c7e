package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapse-notes/synapse/pkg/database"
	"github.com/synapse-notes/synapse/pkg/llm"
)

// writeStoreError maps store-layer errors to HTTP error responses.
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	// Unexpected error
	slog.Error("Unexpected store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// writeLLMError maps router errors to HTTP error responses. Provider
// failures surface as 502 so callers can distinguish them from local
// faults; malformed model output is 422.
func writeLLMError(c *gin.Context, err error) {
	var badOutput *llm.BadOutputError
	if errors.As(err, &badOutput) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	slog.Error("LLM routing error", "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
