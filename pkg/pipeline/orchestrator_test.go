package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
	"github.com/synapse-notes/synapse/pkg/verifier"
)

type fakeNoteStore struct {
	notes []*models.Note
	err   error
}

func (f *fakeNoteStore) GetNotes(context.Context, int) ([]*models.Note, error) {
	return f.notes, f.err
}

func (f *fakeNoteStore) GetNote(_ context.Context, id string) (*models.Note, error) {
	for _, n := range f.notes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeRetriever struct {
	ids     []string
	err     error
	gotTopK int
}

func (f *fakeRetriever) RetrieveCandidates(_ context.Context, _ *models.Note, topK int) ([]string, error) {
	f.gotTopK = topK
	return f.ids, f.err
}

type fakeSynthesizer struct {
	insights           []*models.GeneratedInsight
	constellation      *models.GeneratedInsight
	pairwiseDelay      time.Duration
	constellationCalls int
}

func (f *fakeSynthesizer) PairwiseFusion(context.Context, *models.Note, []*models.Note) []*models.GeneratedInsight {
	time.Sleep(f.pairwiseDelay)
	return f.insights
}

func (f *fakeSynthesizer) Constellation(context.Context, *models.Note, *models.GeneratedInsight) *models.GeneratedInsight {
	f.constellationCalls++
	return f.constellation
}

type fakeRanker struct{}

func (fakeRanker) Rank(_ context.Context, insights []*models.GeneratedInsight, keep int) []*models.GeneratedInsight {
	for _, ins := range insights {
		if ins.Score == 0 {
			ins.Score = ins.EurekaMarkers.Conviction
		}
	}
	if len(insights) > keep {
		insights = insights[:keep]
	}
	return insights
}

type fakeRefiner struct{ suffix string }

func (f *fakeRefiner) Refine(_ context.Context, draft string) string {
	if f.suffix == "" {
		return draft
	}
	return draft + f.suffix
}

type fakeClaimVerifier struct {
	enabled       bool
	verifications []models.Verification
	gotQuery      string
	calls         int
}

func (f *fakeClaimVerifier) Enabled() bool { return f.enabled }
func (f *fakeClaimVerifier) Verify(_ context.Context, query string, _ []verifier.Candidate) []models.Verification {
	f.gotQuery = query
	f.calls++
	return f.verifications
}

func genInsight(core string, conviction float64, noteIDs ...string) *models.GeneratedInsight {
	refs := make([]models.EvidenceRef, len(noteIDs))
	for i, id := range noteIDs {
		refs[i] = models.EvidenceRef{NoteID: id, Quote: "q"}
	}
	return &models.GeneratedInsight{
		Mode:          "analogy",
		InsightCore:   core,
		EurekaMarkers: models.EurekaMarkers{Conviction: conviction, Fluency: 0.5},
		EvidenceRefs:  refs,
	}
}

type harness struct {
	store     *fakeNoteStore
	retriever *fakeRetriever
	synth     *fakeSynthesizer
	refiner   *fakeRefiner
	verifier  *fakeClaimVerifier
	jobs      *jobs.Store
	runner    *Runner
}

func newHarness() *harness {
	h := &harness{
		store: &fakeNoteStore{notes: []*models.Note{
			{ID: "src", Title: "Source", Content: "source content"},
			{ID: "c1", Title: "One", Content: "one"},
			{ID: "c2", Title: "Two", Content: "two"},
		}},
		retriever: &fakeRetriever{ids: []string{"c1", "c2"}},
		synth: &fakeSynthesizer{insights: []*models.GeneratedInsight{
			genInsight("X", 0.9, "src", "c1"),
		}},
		refiner:  &fakeRefiner{},
		verifier: &fakeClaimVerifier{},
		jobs:     jobs.NewStore(0),
	}
	orch := NewOrchestrator(h.store, h.retriever, h.synth, fakeRanker{}, h.refiner, h.verifier, h.jobs)
	h.runner = NewRunner(orch, h.jobs, llm.NewUsageRecorder())
	return h
}

func (h *harness) runJob(t *testing.T, sourceID string) models.JobView {
	return h.runPrescribed(t, sourceID, nil)
}

func (h *harness) runPrescribed(t *testing.T, sourceID string, rx *models.Prescription) models.JobView {
	t.Helper()
	job := h.jobs.Create()
	done := h.runner.Launch(context.Background(), job.JobID, sourceID, rx)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	view, ok := h.jobs.Get(job.JobID)
	require.True(t, ok)
	return view
}

func TestRun_SucceedsWithRefinedTitle(t *testing.T) {
	h := newHarness()
	h.refiner.suffix = " — refined"

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateSucceeded, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "v2", view.Result.Version)
	require.NotEmpty(t, view.Result.Insights)
	assert.Contains(t, view.Result.Insights[0].Title, "refined")
	assert.InDelta(t, 0.9*1.1, view.Result.Insights[0].Score, 1e-9,
		"self-evolution multiplies the score")
	assert.Equal(t, 100, view.Progress.Pct)
	assert.Equal(t, 2, view.Metrics.NotesConsidered)
	assert.Equal(t, 2, view.Metrics.Clusters, "one cluster per fused candidate")
	assert.Positive(t, view.Metrics.ElapsedMS)
}

func TestRun_SourceNotFound(t *testing.T) {
	h := newHarness()
	view := h.runJob(t, "missing")
	require.Equal(t, models.JobStateFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, CodeNotFound, view.Error.Code)
	assert.Nil(t, view.Result)
}

func TestRun_NoCandidates(t *testing.T) {
	h := newHarness()
	h.retriever.ids = nil

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateFailed, view.Status)
	assert.Equal(t, CodeNoCandidates, view.Error.Code)
}

func TestRun_NoInsights(t *testing.T) {
	h := newHarness()
	h.synth.insights = nil

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateFailed, view.Status)
	assert.Equal(t, CodeNoInsights, view.Error.Code)
}

func TestRun_CancelBetweenPhases(t *testing.T) {
	h := newHarness()
	h.synth.pairwiseDelay = 200 * time.Millisecond

	job := h.jobs.Create()
	done := h.runner.Launch(context.Background(), job.JobID, "src", nil)

	// Cancel while pairwise synthesis is still sleeping; the orchestrator
	// observes it at the next phase boundary.
	time.Sleep(50 * time.Millisecond)
	_, ok := h.jobs.Cancel(job.JobID)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	view, _ := h.jobs.Get(job.JobID)
	assert.Equal(t, models.JobStateCancelled, view.Status)
	assert.Nil(t, view.Result, "cancel never produces a partial final result")
	assert.Nil(t, view.Error)
}

func TestRun_ConstellationPrependsWhenStronger(t *testing.T) {
	h := newHarness()
	h.synth.insights = []*models.GeneratedInsight{genInsight("pairwise", 0.6, "src", "c1")}
	h.synth.constellation = genInsight("constellation", 0.95, "src", "c1", "c2")

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateSucceeded, view.Status)
	require.NotEmpty(t, view.Result.Insights)
	assert.Equal(t, "constellation", view.Result.Insights[0].Title)
}

func TestRun_VerificationAdoptsSupportedText(t *testing.T) {
	h := newHarness()
	h.verifier.enabled = true
	h.verifier.verifications = []models.Verification{
		{
			Candidate: models.VerificationCandidate{Kind: "hypothesis", Text: "verified claim"},
			Verdict:   "supported",
			Notes:     "score=2",
		},
	}

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateSucceeded, view.Status)
	lead := view.Result.Insights[0]
	assert.Equal(t, "verified claim", lead.Title)
	assert.GreaterOrEqual(t, lead.Score, 0.85)
	require.NotNil(t, lead.Verification)
	assert.Equal(t, "supported", lead.Verification.Verdict)
}

func TestRun_PanicBecomesFailedJob(t *testing.T) {
	h := newHarness()
	// A nil insight entry makes ranking dereference nil.
	h.synth.insights = []*models.GeneratedInsight{nil}

	job := h.jobs.Create()
	done := h.runner.Launch(context.Background(), job.JobID, "src", nil)
	<-done

	view, _ := h.jobs.Get(job.JobID)
	require.Equal(t, models.JobStateFailed, view.Status)
	require.NotNil(t, view.Error)
	// The error code is the recovered value's type name, so a runtime
	// nil dereference is reported as a runtime error type.
	assert.True(t, strings.HasPrefix(view.Error.Code, "runtime."), "code %q", view.Error.Code)
	assert.Contains(t, view.Error.Message, "nil pointer")
}

func TestRun_PrescriptionTopKReachesRetriever(t *testing.T) {
	h := newHarness()

	rx := &models.Prescription{Retrieval: models.RetrievalPlan{Strategy: "hybrid", TopK: 4}}
	view := h.runPrescribed(t, "src", rx)
	require.Equal(t, models.JobStateSucceeded, view.Status)
	assert.Equal(t, 4, h.retriever.gotTopK)
}

func TestRun_DefaultTopKWithoutPrescription(t *testing.T) {
	h := newHarness()

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateSucceeded, view.Status)
	assert.Equal(t, retrievalTopK, h.retriever.gotTopK)
}

func TestRun_PairwiseModeSkipsConstellation(t *testing.T) {
	h := newHarness()
	h.synth.constellation = genInsight("constellation", 0.99, "src", "c1")

	view := h.runPrescribed(t, "src", &models.Prescription{Mode: models.ModePairwise})
	require.Equal(t, models.JobStateSucceeded, view.Status)
	assert.Zero(t, h.synth.constellationCalls)
	assert.Equal(t, "X", view.Result.Insights[0].Title)
}

func TestRun_PrescriptionWebOffSkipsVerification(t *testing.T) {
	h := newHarness()
	h.verifier.enabled = true

	rx := &models.Prescription{
		Verification: models.VerificationPlan{Enabled: true, MaxSites: 3},
		Toggles:      models.PrescriptionToggles{LLM: true, Web: false},
	}
	view := h.runPrescribed(t, "src", rx)
	require.Equal(t, models.JobStateSucceeded, view.Status)
	assert.Zero(t, h.verifier.calls, "web toggle off must keep verification offline")
	assert.Nil(t, view.Result.Insights[0].Verification)
}

func TestVerifyQuery_KeepsRuneBoundaries(t *testing.T) {
	h := newHarness()
	h.verifier.enabled = true
	// Untitled source with multi-byte content longer than the excerpt cap.
	h.store.notes[0].Title = ""
	h.store.notes[0].Content = strings.Repeat("知", 200)

	view := h.runJob(t, "src")
	require.Equal(t, models.JobStateSucceeded, view.Status)
	require.NotEmpty(t, h.verifier.gotQuery)
	assert.True(t, utf8.ValidString(h.verifier.gotQuery))
	assert.Equal(t, queryExcerptRunes, len([]rune(h.verifier.gotQuery)))
}

func TestProgressTrace_Monotonic(t *testing.T) {
	h := newHarness()
	jobView := h.jobs.Create()

	type snap struct {
		phase models.Phase
		pct   int
	}
	var trace []snap
	sampled := make(chan struct{})
	done := h.runner.Launch(context.Background(), jobView.JobID, "src", nil)
	go func() {
		defer close(sampled)
		for {
			v, ok := h.jobs.Get(jobView.JobID)
			if ok && v.Progress != nil {
				trace = append(trace, snap{v.Progress.Phase, v.Progress.Pct})
			}
			if ok && v.Status.Terminal() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	<-done
	<-sampled

	lastIdx, lastPct := -1, -1
	for _, s := range trace {
		idx := models.PhaseIndex(s.phase)
		assert.GreaterOrEqual(t, idx, lastIdx, "phase index never regresses")
		if idx == lastIdx {
			assert.GreaterOrEqual(t, s.pct, lastPct, "pct never regresses within a phase")
		}
		lastIdx, lastPct = idx, s.pct
	}
}
