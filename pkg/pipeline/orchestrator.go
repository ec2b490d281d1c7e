// Package pipeline drives the insight-generation phase machine and binds
// job lifecycle to it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/models"
	"github.com/synapse-notes/synapse/pkg/ranking"
	"github.com/synapse-notes/synapse/pkg/synthesis"
	"github.com/synapse-notes/synapse/pkg/verifier"
)

const (
	// maxNotes bounds how much of the corpus one run considers.
	maxNotes = 1000
	// retrievalTopK is how many candidate notes retrieval may return.
	retrievalTopK = 10
	// keepInsights is the size of the final (and partial) insight list.
	keepInsights = 3
	// evolvedScoreBoost rewards a draft that self-evolution improved.
	evolvedScoreBoost = 1.1
	// supportedScoreFloor is the minimum score of a web-supported insight.
	supportedScoreFloor = 0.85
	// queryExcerptRunes caps the verification query built from an
	// untitled note's content.
	queryExcerptRunes = 120
)

// NoteStore is the slice of the note store the orchestrator reads.
type NoteStore interface {
	GetNotes(ctx context.Context, limit int) ([]*models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
}

// Retriever selects candidate note ids for a source note.
type Retriever interface {
	RetrieveCandidates(ctx context.Context, source *models.Note, topK int) ([]string, error)
}

// Synthesizer produces pairwise and constellation insights.
type Synthesizer interface {
	PairwiseFusion(ctx context.Context, source *models.Note, candidates []*models.Note) []*models.GeneratedInsight
	Constellation(ctx context.Context, source *models.Note, top *models.GeneratedInsight) *models.GeneratedInsight
}

// Ranker scores and prunes insights.
type Ranker interface {
	Rank(ctx context.Context, insights []*models.GeneratedInsight, keep int) []*models.GeneratedInsight
}

// Refiner improves a final-draft insight core.
type Refiner interface {
	Refine(ctx context.Context, draft string) string
}

// ClaimVerifier checks claims against the web.
type ClaimVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, query string, candidates []verifier.Candidate) []models.Verification
}

// Orchestrator runs the full pipeline for one job at a time.
type Orchestrator struct {
	notes       NoteStore
	retriever   Retriever
	synthesizer Synthesizer
	ranker      Ranker
	refiner     Refiner
	verifier    ClaimVerifier
	jobs        *jobs.Store
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(notes NoteStore, retriever Retriever, synthesizer Synthesizer, ranker Ranker, refiner Refiner, claimVerifier ClaimVerifier, jobStore *jobs.Store) *Orchestrator {
	return &Orchestrator{
		notes:       notes,
		retriever:   retriever,
		synthesizer: synthesizer,
		ranker:      ranker,
		refiner:     refiner,
		verifier:    claimVerifier,
		jobs:        jobStore,
	}
}

// Run executes the phase machine for jobID over sourceNoteID. A non-nil
// prescription narrows retrieval depth, synthesis mode, and verification.
// It returns the final result, a *Error with a stable code, or
// ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, jobID, sourceNoteID string, rx *models.Prescription, progress *Reporter) (*models.JobResult, error) {
	topK := retrievalTopK
	if rx != nil && rx.Retrieval.TopK > 0 {
		topK = rx.Retrieval.TopK
	}

	// Phase 1: candidate selection.
	progress.Update(models.PhaseCandidateSelection, 5, nil, nil, "")

	notes, err := o.notes.GetNotes(ctx, maxNotes)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}
	var source *models.Note
	for _, n := range notes {
		if n.ID == sourceNoteID {
			source = n
			break
		}
	}
	if source == nil {
		return nil, failf(CodeNotFound, "source note %s not found", sourceNoteID)
	}
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	candidateIDs, err := o.retriever.RetrieveCandidates(ctx, source, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving candidates: %w", err)
	}
	if len(candidateIDs) == 0 {
		return nil, failf(CodeNoCandidates, "no candidates discovered for fusion")
	}
	candidates := make([]*models.Note, 0, len(candidateIDs))
	byID := make(map[string]*models.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}
	for _, id := range candidateIDs {
		if n, ok := byID[id]; ok {
			candidates = append(candidates, n)
		}
	}
	progress.Update(models.PhaseCandidateSelection, 30, nil,
		&models.MetricsDelta{NotesConsidered: len(candidates)}, "")
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	// Phase 2: pairwise synthesis.
	insights := o.synthesizer.PairwiseFusion(ctx, source, candidates)
	if len(insights) == 0 {
		return nil, failf(CodeNoInsights, "synthesis produced no valid insights")
	}
	// Each source+candidate pair is one synthesis cluster.
	progress.Update(models.PhaseInitialSynthesis, 50, partialViews(insights, keepInsights),
		&models.MetricsDelta{Clusters: len(candidates)}, "")
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	// Phase 2b: ranking with counter-check.
	top := o.ranker.Rank(ctx, insights, keepInsights)
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	// Phase 3: multi-hop constellation. Pairwise-mode prescriptions stop
	// at fusion.
	progress.Update(models.PhaseMultiHop, 55, nil, nil, "")
	if rx == nil || rx.Mode != models.ModePairwise {
		constellation := o.synthesizer.Constellation(ctx, source, top[0])
		if constellation != nil && constellation.Score == 0 {
			// Generated after the counter-check phase, so scored without one.
			constellation.Score = ranking.Score(constellation, 0)
		}
		top = synthesis.MergeConstellation(top, constellation, keepInsights)
	}
	progress.Update(models.PhaseMultiHop, 60, partialViews(top, keepInsights), nil, "")
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	// Phase 4: self-evolution on the leader.
	leader := top[0]
	refined := o.refiner.Refine(ctx, leader.InsightCore)
	if refined != "" && refined != leader.InsightCore {
		leader.InsightCore = refined
		leader.Score *= evolvedScoreBoost
		slog.Info("Self-evolution improved top insight", "job_id", jobID)
	}
	progress.Update(models.PhaseAgentRefinement, 80, nil, nil, "")
	if err := o.checkCancelled(jobID); err != nil {
		return nil, err
	}

	// Phase 5: verification and finalizing. A prescription must both have
	// verification enabled and the web toggle on for the phase to run.
	var verification *models.Verification
	if o.verifier != nil && o.verifier.Enabled() && wantsVerification(rx) {
		verification = o.verify(ctx, source, leader)
	}
	progress.Update(models.PhaseFinalizing, 90, nil, nil, "")

	result := &models.JobResult{
		Version:  "v2",
		Insights: finalViews(top, verification),
	}
	progress.Update(models.PhaseFinalizing, 100, nil, nil, "")
	return result, nil
}

func (o *Orchestrator) checkCancelled(jobID string) error {
	if o.jobs.IsCancelled(jobID) {
		return ErrCancelled
	}
	return nil
}

// wantsVerification reads the prescription's web gating. Without a
// prescription the verifier's own Enabled switch decides alone.
func wantsVerification(rx *models.Prescription) bool {
	if rx == nil {
		return true
	}
	return rx.Toggles.Web && rx.Verification.Enabled
}

// truncateRunes cuts s to at most max runes, never splitting a
// multi-byte character.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// verify checks the leader's core claim and hypothesis statements. A
// supported verdict replaces the core text and floors the score.
func (o *Orchestrator) verify(ctx context.Context, source *models.Note, leader *models.GeneratedInsight) *models.Verification {
	candidates := []verifier.Candidate{{Kind: "insightCore", Text: leader.InsightCore}}
	for _, h := range leader.Hypotheses {
		if h.Statement != "" {
			candidates = append(candidates, verifier.Candidate{Kind: "hypothesis", Text: h.Statement})
		}
	}
	query := source.Title
	if query == "" {
		query = truncateRunes(source.Content, queryExcerptRunes)
	}

	verifications := o.verifier.Verify(ctx, query, candidates)
	for i := range verifications {
		if verifications[i].Verdict == "supported" {
			leader.InsightCore = verifications[i].Candidate.Text
			leader.Score = math.Max(leader.Score, supportedScoreFloor)
			return &verifications[i]
		}
	}
	if len(verifications) > 0 {
		return &verifications[0]
	}
	return nil
}

func partialViews(insights []*models.GeneratedInsight, keep int) []models.Insight {
	if len(insights) > keep {
		insights = insights[:keep]
	}
	views := make([]models.Insight, len(insights))
	for i, ins := range insights {
		views[i] = models.Insight{
			InsightID: fmt.Sprintf("temp-%d", i),
			Title:     titleOf(ins),
			Score:     ins.Score,
		}
	}
	return views
}

func finalViews(insights []*models.GeneratedInsight, leaderVerification *models.Verification) []models.Insight {
	views := make([]models.Insight, len(insights))
	for i, ins := range insights {
		views[i] = models.Insight{
			InsightID:     "final-" + uuid.NewString(),
			Title:         titleOf(ins),
			Score:         ins.Score,
			Snippet:       ins.ReframedProblem,
			EvidenceRefs:  ins.EvidenceRefs,
			SourceNoteIDs: ins.SourceNoteIDs,
		}
		if i == 0 {
			views[i].Verification = leaderVerification
		}
	}
	return views
}

func titleOf(ins *models.GeneratedInsight) string {
	if ins.InsightCore == "" {
		return "Untitled Insight"
	}
	return ins.InsightCore
}
