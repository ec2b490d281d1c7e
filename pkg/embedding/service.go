// Package embedding keeps the note store and the vector index in sync:
// one upsert re-chunks a note, re-embeds it, and replaces its index
// entries under a single store transaction.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/synapse-notes/synapse/pkg/chunking"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
	"github.com/synapse-notes/synapse/pkg/vectorindex"
)

// Tx is the transactional slice of the note store the upsert runs in.
type Tx interface {
	DeleteChunksForNote(ctx context.Context, noteID string) error
	CreateChunks(ctx context.Context, noteID string, contents []string) ([]*models.Chunk, error)
	CreateEmbeddings(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error
}

// Store is the slice of the note store the service needs.
type Store interface {
	GetChunkIDsForNote(ctx context.Context, noteID string) ([]string, error)
	// WithTx runs fn in a transaction, committing iff fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Service owns the chunk/embed/index upsert path.
type Service struct {
	store  Store
	index  *vectorindex.Index
	router *llm.Router
}

// NewService wires a Service.
func NewService(store Store, index *vectorindex.Index, router *llm.Router) *Service {
	return &Service{store: store, index: index, router: router}
}

// UpsertNote replaces a note's chunks, embeddings, and index entries with
// ones derived from its current content. After a successful return the
// store and the index agree on exactly the note's new chunk ids.
func (s *Service) UpsertNote(ctx context.Context, note *models.Note) error {
	oldChunkIDs, err := s.store.GetChunkIDsForNote(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("collecting existing chunks: %w", err)
	}

	return s.store.WithTx(ctx, func(tx Tx) error {
		s.index.Remove(oldChunkIDs)
		if err := tx.DeleteChunksForNote(ctx, note.ID); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}

		parts := chunking.Split(note.Content)
		if len(parts) == 0 {
			slog.Debug("Note has no chunkable content", "note_id", note.ID)
			return nil
		}

		chunks, err := tx.CreateChunks(ctx, note.ID, parts)
		if err != nil {
			return fmt.Errorf("creating chunks: %w", err)
		}

		vectors, err := s.router.Embed(ctx, parts)
		if err != nil {
			return fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embedding count %d does not match chunk count %d",
				len(vectors), len(chunks))
		}

		chunkIDs := make([]string, len(chunks))
		for i, c := range chunks {
			chunkIDs[i] = c.ID
		}
		if err := s.index.Add(vectors, chunkIDs); err != nil {
			return fmt.Errorf("indexing chunks: %w", err)
		}
		if err := tx.CreateEmbeddings(ctx, chunkIDs, vectors, s.router.EmbeddingModel()); err != nil {
			// Roll the index back too so it does not drift from the store.
			s.index.Remove(chunkIDs)
			return fmt.Errorf("persisting embeddings: %w", err)
		}
		return nil
	})
}

// RemoveNote drops a note's chunks from the vector index. The store side
// is handled by the caller's delete (chunks cascade).
func (s *Service) RemoveNote(ctx context.Context, noteID string) error {
	chunkIDs, err := s.store.GetChunkIDsForNote(ctx, noteID)
	if err != nil {
		return fmt.Errorf("collecting chunks for removal: %w", err)
	}
	s.index.Remove(chunkIDs)
	return nil
}
