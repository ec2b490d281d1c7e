// Package evolution refines a final-draft insight by generating focused
// variants, scoring them, and merging the two best.
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/synapse-notes/synapse/pkg/llm"
)

// minVariantLen filters degenerate variants.
const minVariantLen = 20

// focuses are the fixed refinement angles, one variant each.
var focuses = []string{
	"highlighting technical depth and specific evidence, creating a rigorous, academic tone",
	"emphasizing broad connections and analogies to other fields, creating a creative, lateral-thinking tone",
	"focusing on practical implications and actionable outcomes, creating a pragmatic, business-oriented tone",
}

type evaluation struct {
	Variant  int     `json:"variant"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Refiner runs the variant/evaluate/merge loop.
type Refiner struct {
	router *llm.Router
}

// NewRefiner wires a Refiner.
func NewRefiner(router *llm.Router) *Refiner {
	return &Refiner{router: router}
}

// Refine returns an improved version of draft, or the draft itself when
// refinement cannot improve on it. It never returns an error: every
// failure degrades to the best text seen so far.
func (r *Refiner) Refine(ctx context.Context, draft string) string {
	if r.router == nil || !r.router.HasProvider() {
		return draft
	}

	variants := r.generateVariants(ctx, draft)
	if len(variants) < 2 {
		return draft
	}

	ranked := r.evaluate(ctx, variants)
	top := make([]string, 0, 2)
	for _, e := range ranked {
		i := e.Variant - 1
		if i >= 0 && i < len(variants) {
			top = append(top, variants[i])
		}
		if len(top) == 2 {
			break
		}
	}
	if len(top) == 0 {
		return draft
	}
	if len(top) == 1 {
		return top[0]
	}
	return r.merge(ctx, top[0], top[1])
}

// generateVariants fans out one call per focus and returns the usable
// variants plus the original, deduplicated in that order.
func (r *Refiner) generateVariants(ctx context.Context, draft string) []string {
	raw := make([]string, len(focuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, focus := range focuses {
		g.Go(func() error {
			prompt := fmt.Sprintf(
				"You are an expert researcher. Refine the insight draft with a specific focus.\nFocus: %s.\n\nDraft:\n'''\n%s\n'''\nReturn ONLY the refined draft text.",
				focus, draft)
			text, err := r.router.Text(gctx, llm.TaskRunSelfEvolution, prompt, llm.Temp(0.7))
			if err != nil {
				slog.Debug("Variant generation failed", "focus_index", i, "error", err)
				return nil
			}
			raw[i] = strings.TrimSpace(text)
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]struct{}, len(raw)+1)
	variants := make([]string, 0, len(raw)+1)
	for _, v := range append(raw, draft) {
		if len(v) <= minVariantLen {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}
	return variants
}

// evaluate scores the variants 1..10 and returns them best first. A parse
// failure pretends all scored equal, preserving input order.
func (r *Refiner) evaluate(ctx context.Context, variants []string) []evaluation {
	var block strings.Builder
	for i, v := range variants {
		fmt.Fprintf(&block, "Insight Variant #%d:\n\"\"\"\n%s\n\"\"\"\n\n", i+1, v)
	}
	prompt := fmt.Sprintf(
		`You are an evaluator. You will be given multiple proposed insights. Score each from 1 to 10 on overall quality (is it convincing, well-supported, novel, and clear?). Also, provide brief feedback on its strengths or weaknesses.

%s
Respond with ONLY a valid JSON list of objects, like this: [{"variant": 1, "score": 8, "feedback": "..."}].`,
		block.String())

	var evals []evaluation
	err := r.router.RouteJSON(ctx, llm.TaskRunSelfEvolution,
		[]llm.Message{{Role: "user", Content: prompt}},
		&llm.Options{Temperature: llm.Temp(0.2)}, &evals)
	if err != nil || len(evals) == 0 {
		slog.Debug("Variant evaluation failed, keeping input order", "error", err)
		evals = make([]evaluation, len(variants))
		for i := range variants {
			evals[i] = evaluation{Variant: i + 1}
		}
		return evals
	}
	sort.SliceStable(evals, func(a, b int) bool {
		return evals[a].Score > evals[b].Score
	})
	return evals
}

// merge fuses the two best variants; on failure the better one wins.
func (r *Refiner) merge(ctx context.Context, first, second string) string {
	prompt := fmt.Sprintf(
		`You are a master synthesizer. Your task is to merge the best aspects of the following insight drafts into a single, superior insight.

Draft 1:
'''
%s
'''

Draft 2:
'''
%s
'''

Guidelines:
- Preserve the most important evidence, arguments, and novel ideas from each draft.
- Ensure the merged insight is coherent, well-structured, and not repetitive.
- Create a concise, clear narrative that includes the key points from both drafts.
Return ONLY the merged insight text.`, first, second)

	text, err := r.router.Text(ctx, llm.TaskRunSelfEvolution, prompt, llm.Temp(0.4))
	if err != nil {
		slog.Debug("Variant merge failed, keeping best variant", "error", err)
		return first
	}
	if merged := strings.TrimSpace(text); merged != "" {
		return merged
	}
	return first
}
