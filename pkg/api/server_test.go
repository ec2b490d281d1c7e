package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-notes/synapse/pkg/database"
	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	notes  map[string]*models.Note
	chunks map[string]*models.ChunkView
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notes:  map[string]*models.Note{},
		chunks: map[string]*models.ChunkView{},
	}
}

func (f *fakeStore) CreateNote(_ context.Context, title, content string) (*models.Note, error) {
	f.nextID++
	n := &models.Note{
		ID:        fmt.Sprintf("note-%d", f.nextID),
		Title:     title,
		Content:   content,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeStore) UpdateNote(_ context.Context, id string, req models.UpdateNoteRequest) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if req.Title != nil {
		n.Title = *req.Title
	}
	if req.Content != nil {
		n.Content = *req.Content
	}
	return n, nil
}

func (f *fakeStore) DeleteNote(_ context.Context, id string) error {
	if _, ok := f.notes[id]; !ok {
		return database.ErrNotFound
	}
	delete(f.notes, id)
	return nil
}

func (f *fakeStore) GetNote(_ context.Context, id string) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) GetNotes(_ context.Context, limit int) ([]*models.Note, error) {
	var out []*models.Note
	for _, n := range f.notes {
		out = append(out, n)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetChunkView(_ context.Context, chunkID string) (*models.ChunkView, error) {
	v, ok := f.chunks[chunkID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return v, nil
}

type fakeEmbedder struct {
	upserts []string
	removes []string
	err     error
}

func (f *fakeEmbedder) UpsertNote(_ context.Context, note *models.Note) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, note.ID)
	return nil
}

func (f *fakeEmbedder) RemoveNote(_ context.Context, noteID string) error {
	f.removes = append(f.removes, noteID)
	return nil
}

type fakeSearcher struct {
	ids []string
}

func (f *fakeSearcher) Search(context.Context, []string, string, int) ([]string, error) {
	return f.ids, nil
}

// fakeLauncher optionally drives the job store the way a runner would.
type fakeLauncher struct {
	launched []string
	gotRx    *models.Prescription
	run      func(jobID, sourceNoteID string)
}

func (f *fakeLauncher) Launch(_ context.Context, jobID, sourceNoteID string, rx *models.Prescription) <-chan struct{} {
	f.launched = append(f.launched, jobID)
	f.gotRx = rx
	done := make(chan struct{})
	go func() {
		defer close(done)
		if f.run != nil {
			f.run(jobID, sourceNoteID)
		}
	}()
	return done
}

type testHarness struct {
	server   *Server
	engine   *gin.Engine
	store    *fakeStore
	embedder *fakeEmbedder
	searcher *fakeSearcher
	launcher *fakeLauncher
	jobs     *jobs.Store
}

func newTestHarness(t *testing.T, router *llm.Router) *testHarness {
	t.Helper()
	if router == nil {
		router = llm.NewRouter(llm.Config{FakeEmbeddings: true})
	}
	h := &testHarness{
		store:    newFakeStore(),
		embedder: &fakeEmbedder{},
		searcher: &fakeSearcher{},
		launcher: &fakeLauncher{},
		jobs:     jobs.NewStore(0),
	}
	h.server = NewServer(h.store, h.embedder, h.searcher, h.jobs, h.launcher, router, nil)
	h.server.eventsPollInterval = 5 * time.Millisecond
	h.engine = h.server.Routes()
	return h
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestGetJob_UnknownIDReturns404(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/jobs/3b1c6f0a-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateInsights_Accepted(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/generate-insights",
		gin.H{"source_note_id": "note-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID   string `json:"job_id"`
		TraceID string `json:"trace_id"`
	}
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, []string{resp.JobID}, h.launcher.launched)

	got := h.do(t, http.MethodGet, "/api/jobs/"+resp.JobID, nil)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestGenerateInsights_PrescriptionReachesLauncher(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/generate-insights", gin.H{
		"source_note_id": "note-1",
		"prescription": gin.H{
			"goal":      "sharpen the argument",
			"mode":      "pairwise",
			"retrieval": gin.H{"strategy": "hybrid", "top_k": 5},
			"toggles":   gin.H{"llm": true, "web": false},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NotNil(t, h.launcher.gotRx)
	assert.Equal(t, models.ModePairwise, h.launcher.gotRx.Mode)
	assert.Equal(t, 5, h.launcher.gotRx.Retrieval.TopK)
	assert.False(t, h.launcher.gotRx.Toggles.Web)
}

func TestGenerateInsights_NoPrescriptionIsNil(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/generate-insights",
		gin.H{"source_note_id": "note-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Nil(t, h.launcher.gotRx)
}

func TestGenerateInsights_MissingSourceNote(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/generate-insights", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob_TriggerThenCancel(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/generate-insights",
		gin.H{"source_note_id": "note-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(t, rec, &created)

	cancel := h.do(t, http.MethodPost, "/api/jobs/"+created.JobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancel.Code)

	var view models.JobView
	decodeJSON(t, cancel, &view)
	assert.Equal(t, models.JobStateCancelled, view.Status)
	assert.Nil(t, view.Result)

	// The stored state matches what cancel returned.
	got := h.do(t, http.MethodGet, "/api/jobs/"+created.JobID, nil)
	decodeJSON(t, got, &view)
	assert.Equal(t, models.JobStateCancelled, view.Status)
}

func TestCancelJob_Unknown(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/jobs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobEvents_TerminalSnapshotEndsStream(t *testing.T) {
	h := newTestHarness(t, nil)

	job := h.jobs.Create()
	h.jobs.MarkRunning(job.JobID)
	h.jobs.Complete(job.JobID, &models.JobResult{Version: "v2", Insights: []models.Insight{}})

	rec := h.do(t, http.MethodGet, "/api/jobs/"+job.JobID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	frames := sseFrames(rec.Body.String())
	require.Len(t, frames, 1, "a terminal job yields exactly one frame")

	var view models.JobView
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &view))
	assert.Equal(t, models.JobStateSucceeded, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "v2", view.Result.Version)
}

func TestJobEvents_EmitsProgressChanges(t *testing.T) {
	h := newTestHarness(t, nil)

	job := h.jobs.Create()
	go func() {
		h.jobs.MarkRunning(job.JobID)
		h.jobs.Heartbeat(job.JobID, models.PhaseInitialSynthesis, 50, nil, nil, "")
		time.Sleep(20 * time.Millisecond)
		h.jobs.Complete(job.JobID, &models.JobResult{Version: "v2"})
	}()

	rec := h.do(t, http.MethodGet, "/api/jobs/"+job.JobID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := sseFrames(rec.Body.String())
	require.NotEmpty(t, frames)

	var last models.JobView
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &last))
	assert.Equal(t, models.JobStateSucceeded, last.Status)

	// Phases never move backwards across frames.
	prev := -1
	for _, frame := range frames {
		var view models.JobView
		require.NoError(t, json.Unmarshal([]byte(frame), &view))
		idx := models.PhaseIndex(view.Progress.Phase)
		assert.GreaterOrEqual(t, idx, prev)
		prev = idx
	}
}

func TestJobEvents_Unknown(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/jobs/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// sseFrames extracts the data payloads from an SSE body.
func sseFrames(body string) []string {
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, rest)
		}
	}
	return frames
}

func TestNotes_CreateGetUpdateDelete(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/notes",
		gin.H{"title": "Biology", "content": "Ant colonies allocate labour dynamically."})
	require.Equal(t, http.StatusCreated, rec.Code)

	var note models.Note
	decodeJSON(t, rec, &note)
	require.NotEmpty(t, note.ID)
	assert.Equal(t, []string{note.ID}, h.embedder.upserts, "create indexes the note")

	got := h.do(t, http.MethodGet, "/api/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusOK, got.Code)

	upd := h.do(t, http.MethodPut, "/api/notes/"+note.ID, gin.H{"content": "Revised."})
	require.Equal(t, http.StatusOK, upd.Code)
	var updated models.Note
	decodeJSON(t, upd, &updated)
	assert.Equal(t, "Biology", updated.Title, "unset fields survive")
	assert.Equal(t, "Revised.", updated.Content)
	assert.Len(t, h.embedder.upserts, 2, "update re-indexes")

	del := h.do(t, http.MethodDelete, "/api/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
	assert.Equal(t, []string{note.ID}, h.embedder.removes)

	gone := h.do(t, http.MethodGet, "/api/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestCreateNote_MissingTitle(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/notes", gin.H{"content": "orphan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.embedder.upserts)
}

func TestCreateNote_IndexFailure(t *testing.T) {
	h := newTestHarness(t, nil)
	h.embedder.err = assert.AnError

	rec := h.do(t, http.MethodPost, "/api/notes", gin.H{"title": "t", "content": "c"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListNotes(t *testing.T) {
	h := newTestHarness(t, nil)
	h.do(t, http.MethodPost, "/api/notes", gin.H{"title": "a", "content": "x"})
	h.do(t, http.MethodPost, "/api/notes", gin.H{"title": "b", "content": "y"})

	rec := h.do(t, http.MethodGet, "/api/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Notes []models.Note `json:"notes"`
	}
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp.Notes, 2)
}

func TestGetChunk_BothMethods(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.chunks["chunk-1"] = &models.ChunkView{
		ChunkID:   "chunk-1",
		NoteID:    "note-1",
		NoteTitle: "Biology",
		Content:   "Ant colonies allocate labour dynamically.",
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := h.do(t, method, "/api/chunks/chunk-1", nil)
		require.Equal(t, http.StatusOK, rec.Code, method)

		var view models.ChunkView
		decodeJSON(t, rec, &view)
		assert.Equal(t, "Biology", view.NoteTitle)
	}

	rec := h.do(t, http.MethodGet, "/api/chunks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch_RanksAndDropsStaleHits(t *testing.T) {
	h := newTestHarness(t, nil)
	a, _ := h.store.CreateNote(context.Background(), "a", "x")
	b, _ := h.store.CreateNote(context.Background(), "b", "y")
	h.searcher.ids = []string{b.ID, "deleted-note", a.ID}

	rec := h.do(t, http.MethodPost, "/api/search", gin.H{"query": "labour"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, b.ID, resp.Results[0].NoteID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, a.ID, resp.Results[1].NoteID)
	assert.Equal(t, 3, resp.Results[1].Rank)
}

func TestSearch_MissingQuery(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/search", gin.H{"top_k": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedLLM_FakeVectors(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/llm/embed", gin.H{"texts": []string{"alpha", "beta"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
		Dimension  int         `json:"dimension"`
	}
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp.Embeddings, 2)
	assert.Equal(t, llm.EmbeddingDimension, resp.Dimension)
}

func TestRouteLLM_NoProvider(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/llm/route", gin.H{
		"task":     llm.TaskExpandQueries,
		"messages": []llm.Message{{Role: "user", Content: "hi"}},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouteLLM_AndMetrics(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "routed"}},
			},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 3},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer upstream.Close()

	router := llm.NewRouter(llm.Config{
		GatewayURL:     upstream.URL,
		GatewayToken:   "test-token",
		FakeEmbeddings: true,
	})
	h := newTestHarness(t, router)

	rec := h.do(t, http.MethodPost, "/api/llm/route", gin.H{
		"task":     llm.TaskExpandQueries,
		"messages": []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Content  string `json:"content"`
		Provider string `json:"provider"`
	}
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "routed", resp.Content)

	metrics := h.do(t, http.MethodGet, "/api/metrics/llm?reset=1", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	var snap llm.UsageSnapshot
	decodeJSON(t, metrics, &snap)
	assert.Equal(t, 1, snap.Calls)

	again := h.do(t, http.MethodGet, "/api/metrics/llm", nil)
	decodeJSON(t, again, &snap)
	assert.Zero(t, snap.Calls, "reset=1 cleared the counters")
}

func TestHealth_NoDatabase(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
