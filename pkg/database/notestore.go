package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synapse-notes/synapse/pkg/embedding"
	"github.com/synapse-notes/synapse/pkg/models"
)

// ErrNotFound is returned when a note or chunk id resolves to nothing.
var ErrNotFound = errors.New("not found")

// NoteStore is the PostgreSQL-backed note/chunk/embedding store. It
// satisfies the retrieval, synthesis, pipeline, and embedding contracts.
type NoteStore struct {
	pool *pgxpool.Pool
}

// NewNoteStore wires a NoteStore.
func NewNoteStore(pool *pgxpool.Pool) *NoteStore {
	return &NoteStore{pool: pool}
}

// CreateNote inserts a note and returns it with generated fields.
func (s *NoteStore) CreateNote(ctx context.Context, title, content string) (*models.Note, error) {
	n := &models.Note{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notes (title, content) VALUES ($1, $2)
		 RETURNING id, title, content, created_at, updated_at`,
		title, content,
	).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating note: %w", err)
	}
	return n, nil
}

// UpdateNote applies the non-nil fields and returns the updated note.
func (s *NoteStore) UpdateNote(ctx context.Context, id string, req models.UpdateNoteRequest) (*models.Note, error) {
	n := &models.Note{}
	err := s.pool.QueryRow(ctx,
		`UPDATE notes
		 SET title = COALESCE($2, title),
		     content = COALESCE($3, content),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, title, content, created_at, updated_at`,
		id, req.Title, req.Content,
	).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating note %s: %w", id, err)
	}
	return n, nil
}

// DeleteNote removes a note; chunks and embeddings cascade.
func (s *NoteStore) DeleteNote(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting note %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNote loads one note.
func (s *NoteStore) GetNote(ctx context.Context, id string) (*models.Note, error) {
	n := &models.Note{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content, created_at, updated_at FROM notes WHERE id = $1`,
		id,
	).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading note %s: %w", id, err)
	}
	return n, nil
}

// GetNotes lists notes, newest first. limit <= 0 means no limit.
func (s *NoteStore) GetNotes(ctx context.Context, limit int) ([]*models.Note, error) {
	query := `SELECT id, title, content, created_at, updated_at FROM notes ORDER BY created_at DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		n := &models.Note{}
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetChunksForNote returns a note's chunks in position order.
func (s *NoteStore) GetChunksForNote(ctx context.Context, noteID string) ([]*models.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, note_id, content, pos, created_at FROM chunks
		 WHERE note_id = $1 ORDER BY pos`,
		noteID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for note %s: %w", noteID, err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c := &models.Chunk{}
		if err := rows.Scan(&c.ID, &c.NoteID, &c.Content, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunkIDsForNote returns a note's chunk ids in position order.
func (s *NoteStore) GetChunkIDsForNote(ctx context.Context, noteID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM chunks WHERE note_id = $1 ORDER BY pos`, noteID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk ids for note %s: %w", noteID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunkView resolves one chunk with its note's title for evidence links.
func (s *NoteStore) GetChunkView(ctx context.Context, chunkID string) (*models.ChunkView, error) {
	v := &models.ChunkView{}
	err := s.pool.QueryRow(ctx,
		`SELECT c.id, c.note_id, n.title, c.content
		 FROM chunks c JOIN notes n ON n.id = c.note_id
		 WHERE c.id = $1`,
		chunkID,
	).Scan(&v.ChunkID, &v.NoteID, &v.NoteTitle, &v.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading chunk %s: %w", chunkID, err)
	}
	return v, nil
}

// GetNoteIDsForChunkIDs maps chunk ids to their note ids. Unknown chunk
// ids are simply absent from the result.
func (s *NoteStore) GetNoteIDsForChunkIDs(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	if len(chunkIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, note_id FROM chunks WHERE id = ANY($1)`, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("mapping chunks to notes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(chunkIDs))
	for rows.Next() {
		var chunkID, noteID string
		if err := rows.Scan(&chunkID, &noteID); err != nil {
			return nil, fmt.Errorf("scanning chunk mapping: %w", err)
		}
		out[chunkID] = noteID
	}
	return out, rows.Err()
}

// WithTx runs fn inside a transaction, committing iff fn returns nil.
func (s *NoteStore) WithTx(ctx context.Context, fn func(tx embedding.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&noteStoreTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// noteStoreTx is the transactional view handed to the embedding service.
type noteStoreTx struct {
	tx pgx.Tx
}

func (t *noteStoreTx) DeleteChunksForNote(ctx context.Context, noteID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM chunks WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("deleting chunks for note %s: %w", noteID, err)
	}
	return nil
}

func (t *noteStoreTx) CreateChunks(ctx context.Context, noteID string, contents []string) ([]*models.Chunk, error) {
	chunks := make([]*models.Chunk, 0, len(contents))
	for i, content := range contents {
		c := &models.Chunk{}
		err := t.tx.QueryRow(ctx,
			`INSERT INTO chunks (note_id, content, pos) VALUES ($1, $2, $3)
			 RETURNING id, note_id, content, pos, created_at`,
			noteID, content, i,
		).Scan(&c.ID, &c.NoteID, &c.Content, &c.Position, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (t *noteStoreTx) CreateEmbeddings(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("chunk/vector length mismatch: %d != %d", len(chunkIDs), len(vectors))
	}
	for i, chunkID := range chunkIDs {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO embeddings (chunk_id, model, vector) VALUES ($1, $2, $3)`,
			chunkID, model, vectors[i]); err != nil {
			return fmt.Errorf("inserting embedding for chunk %s: %w", chunkID, err)
		}
	}
	return nil
}
