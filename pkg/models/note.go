package models

import "time"

// Note is a user note as stored in the database. Ids are UUID strings;
// callers never parse them.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is a paragraph-sized segment of a note, the unit of embedding and
// retrieval. Position preserves creation order within the note.
type Chunk struct {
	ID        string    `json:"id"`
	NoteID    string    `json:"note_id"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Embedding ties a vector to a chunk (1:1 for a given model).
type Embedding struct {
	ID      string    `json:"id"`
	ChunkID string    `json:"chunk_id"`
	Model   string    `json:"model"`
	Vector  []float32 `json:"vector"`
}

// CreateNoteRequest is the body for POST /api/notes.
type CreateNoteRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

// UpdateNoteRequest is the body for PUT /api/notes/:id.
type UpdateNoteRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkView is the read-only accessor payload for /api/chunks/:id,
// used by evidence links in the UI.
type ChunkView struct {
	ChunkID   string `json:"chunkId"`
	NoteID    string `json:"noteId"`
	NoteTitle string `json:"noteTitle"`
	Content   string `json:"content"`
}
