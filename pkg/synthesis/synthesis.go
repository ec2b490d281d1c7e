// Package synthesis turns evidence from note pairs (and note triples) into
// structured insights via the LLM router.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/synapse-notes/synapse/pkg/chunking"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

const (
	// evidenceParagraphs is how many leading paragraphs each note
	// contributes to an evidence list.
	evidenceParagraphs = 2
	// maxBridges bounds the constellation fan-out.
	maxBridges = 2
)

// NoteGetter resolves note ids to notes.
type NoteGetter interface {
	GetNote(ctx context.Context, id string) (*models.Note, error)
}

// CandidateRetriever finds related notes for a source note.
type CandidateRetriever interface {
	RetrieveCandidates(ctx context.Context, source *models.Note, topK int) ([]string, error)
}

// Engine generates pairwise and constellation insights.
type Engine struct {
	router    *llm.Router
	notes     NoteGetter
	retriever CandidateRetriever
}

// NewEngine wires an Engine.
func NewEngine(router *llm.Router, notes NoteGetter, retriever CandidateRetriever) *Engine {
	return &Engine{router: router, notes: notes, retriever: retriever}
}

type evidenceChunk struct {
	noteID string
	text   string
}

func evidenceFor(notes ...*models.Note) []evidenceChunk {
	var ev []evidenceChunk
	for _, n := range notes {
		for _, p := range chunking.Leading(n.Content, evidenceParagraphs) {
			ev = append(ev, evidenceChunk{noteID: n.ID, text: p})
		}
	}
	return ev
}

// PairwiseFusion generates one insight per source/candidate pair, all
// pairs concurrently. Failed calls and "none" verdicts drop out; the
// survivors keep input order and carry their candidate's note id.
func (e *Engine) PairwiseFusion(ctx context.Context, source *models.Note, candidates []*models.Note) []*models.GeneratedInsight {
	results := make([]*models.GeneratedInsight, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		g.Go(func() error {
			ins, err := e.generate(gctx, llm.TaskGenerateInsight, evidenceFor(source, cand))
			if err != nil {
				slog.Warn("Pairwise insight generation failed",
					"source_note", source.ID, "candidate_note", cand.ID, "error", err)
				return nil
			}
			results[i] = ins
			return nil
		})
	}
	g.Wait()

	insights := make([]*models.GeneratedInsight, 0, len(candidates))
	for i, ins := range results {
		if ins == nil || ins.Mode == "none" {
			continue
		}
		ins.CandidateNoteID = candidates[i].ID
		ins.SourceNoteIDs = []string{source.ID, candidates[i].ID}
		insights = append(insights, ins)
	}
	return insights
}

// Constellation extends the top pairwise insight into a three-way one.
// It retrieves up to two bridge notes reachable from the top insight's
// partner, generates a constellation insight per bridge, and returns the
// one with the highest conviction. Nil when nothing qualified.
func (e *Engine) Constellation(ctx context.Context, source *models.Note, top *models.GeneratedInsight) *models.GeneratedInsight {
	if top == nil || top.CandidateNoteID == "" {
		return nil
	}
	partner, err := e.notes.GetNote(ctx, top.CandidateNoteID)
	if err != nil {
		slog.Warn("Constellation partner lookup failed",
			"note_id", top.CandidateNoteID, "error", err)
		return nil
	}

	bridgeIDs, err := e.retriever.RetrieveCandidates(ctx, partner, maxBridges+2)
	if err != nil {
		slog.Warn("Bridge retrieval failed", "partner", partner.ID, "error", err)
		return nil
	}

	var best *models.GeneratedInsight
	bridges := 0
	for _, id := range bridgeIDs {
		if id == source.ID || id == partner.ID {
			continue
		}
		if bridges == maxBridges {
			break
		}
		bridges++

		bridge, err := e.notes.GetNote(ctx, id)
		if err != nil {
			continue
		}
		ins, err := e.generate(ctx, llm.TaskConstellation, evidenceFor(source, partner, bridge))
		if err != nil || ins.Mode == "none" {
			continue
		}
		ins.CandidateNoteID = partner.ID
		ins.SourceNoteIDs = []string{source.ID, partner.ID, bridge.ID}
		if best == nil || ins.EurekaMarkers.Conviction > best.EurekaMarkers.Conviction {
			best = ins
		}
	}
	return best
}

// MergeConstellation prepends the constellation when it out-convicts the
// current top insight, then truncates to keep.
func MergeConstellation(insights []*models.GeneratedInsight, constellation *models.GeneratedInsight, keep int) []*models.GeneratedInsight {
	if constellation == nil {
		return insights
	}
	if len(insights) > 0 &&
		constellation.EurekaMarkers.Conviction <= insights[0].EurekaMarkers.Conviction {
		return insights
	}
	merged := append([]*models.GeneratedInsight{constellation}, insights...)
	if len(merged) > keep {
		merged = merged[:keep]
	}
	return merged
}

func (e *Engine) generate(ctx context.Context, task string, evidence []evidenceChunk) (*models.GeneratedInsight, error) {
	if len(evidence) == 0 {
		return nil, fmt.Errorf("no evidence to synthesize from")
	}
	var bullets strings.Builder
	for _, c := range evidence {
		fmt.Fprintf(&bullets, "[%s] %s\n", c.noteID, c.text)
	}
	prompt := "You are an Insight Engine. Using ONLY the provided evidence, return a single JSON object with fields: " +
		"mode,reframedProblem,insightCore,selectedHypothesisName,hypotheses[{name,statement,predictedEvidence,disconfirmers,prior,posterior}]," +
		"eurekaMarkers{suddennessProxy,fluency,conviction,positiveAffect},bayesianSurprise,evidenceRefs[{noteId,childId,quote}],test,risks[]. " +
		`Set mode to "none" when the evidence supports no genuine connection.` +
		"\nEVIDENCE:\n" + bullets.String()

	var ins models.GeneratedInsight
	err := e.router.RouteStructured(ctx, task,
		[]llm.Message{{Role: "user", Content: prompt}},
		insightSchema, "insight", &ins)
	if err != nil {
		return nil, err
	}
	return &ins, nil
}
