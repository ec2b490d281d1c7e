// Package ranking scores generated insights and prunes them to the few
// worth keeping, applying an adversarial counter-check penalty.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

// DefaultKeep is how many insights survive ranking.
const DefaultKeep = 3

// CounterCheck is the structured reply of the counterInsight task.
type CounterCheck struct {
	CounterEvidence []string `json:"counterEvidence"`
	Weakness        string   `json:"weakness"`
	Severity        float64  `json:"severity"`
}

// Ranker scores and orders insights.
type Ranker struct {
	router *llm.Router
}

// NewRanker wires a Ranker.
func NewRanker(router *llm.Router) *Ranker {
	return &Ranker{router: router}
}

// Rank scores every insight in place and returns up to keep of them,
// best first. Ties preserve input order.
func (r *Ranker) Rank(ctx context.Context, insights []*models.GeneratedInsight, keep int) []*models.GeneratedInsight {
	if keep <= 0 {
		keep = DefaultKeep
	}
	for _, ins := range insights {
		penalty := r.counterPenalty(ctx, ins)
		ins.Score = Score(ins, penalty)
	}

	ranked := make([]*models.GeneratedInsight, len(insights))
	copy(ranked, insights)
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	if len(ranked) > keep {
		ranked = ranked[:keep]
	}
	return ranked
}

// Score combines the eureka markers with evidence diversity and the
// counter-check penalty.
func Score(ins *models.GeneratedInsight, penalty float64) float64 {
	diversity := float64(distinctNotes(ins.EvidenceRefs))
	m := ins.EurekaMarkers
	return 0.40*m.Conviction +
		0.25*m.Fluency +
		0.15*ins.BayesianSurprise +
		0.10*math.Tanh(diversity/6) -
		penalty
}

func distinctNotes(refs []models.EvidenceRef) int {
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		seen[ref.NoteID] = struct{}{}
	}
	return len(seen)
}

// counterPenalty asks the router to attack the insight. Any failure,
// malformed reply included, yields zero penalty: criticism is optional,
// the insight is not.
func (r *Ranker) counterPenalty(ctx context.Context, ins *models.GeneratedInsight) float64 {
	if r.router == nil || !r.router.HasProvider() {
		return 0
	}

	var evidence strings.Builder
	for _, ref := range ins.EvidenceRefs {
		fmt.Fprintf(&evidence, "- [%s] %s\n", ref.NoteID, ref.Quote)
	}
	prompt := fmt.Sprintf(
		`Attack this insight. Return JSON {"counterEvidence": [...], "weakness": "...", "severity": 0..1}.

Insight: %s

Evidence:
%s`, ins.InsightCore, evidence.String())

	var check CounterCheck
	err := r.router.RouteJSON(ctx, llm.TaskCounterInsight,
		[]llm.Message{{Role: "user", Content: prompt}},
		&llm.Options{Temperature: llm.Temp(0.3)}, &check)
	if err != nil {
		slog.Debug("Counter-check failed, no penalty applied", "error", err)
		return 0
	}
	if check.Severity <= 0 {
		return 0
	}
	return 0.25 * math.Min(1, check.Severity)
}
