// Package retrieval finds candidate notes for a source note with a hybrid
// lexical plus vector search fused by reciprocal rank.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/synapse-notes/synapse/pkg/llm"
)

// DefaultMaxQueries caps the expanded query set.
const DefaultMaxQueries = 8

const (
	// topicRunes caps the topic derived from an untitled note's content.
	topicRunes = 120
	// excerptRunes caps the content excerpt shown to the LLM.
	excerptRunes = 1000
)

// relations are the fixed relation kinds driving query expansion. Order
// matters: it is the order LLM-suggested queries are concatenated in.
var relations = []string{
	"Contradiction",
	"PracticalApplication",
	"HistoricalAnalogy",
	"ProblemToSolution",
	"DeepSimilarity",
	"Mechanism",
	"Boundary",
	"TradeOff",
}

// cheapQueries derives one deterministic query per relation kind from the
// topic alone, no LLM involved.
func cheapQueries(topic string) map[string]string {
	return map[string]string{
		"Contradiction":        topic + " limitation counterexample",
		"PracticalApplication": topic + " how to apply implementation",
		"HistoricalAnalogy":    topic + " historical precedent analogous case",
		"ProblemToSolution":    topic + " bottleneck solution workaround",
		"DeepSimilarity":       topic + " pattern structure isomorphic",
		"Mechanism":            topic + " mechanism pathway causes via",
		"Boundary":             topic + " only if fails when under condition",
		"TradeOff":             topic + " trade-off at the cost of diminishing returns",
	}
}

// queriesSchema accepts any subset of the relation keys mapping to strings.
var queriesSchema = func() json.RawMessage {
	props := make(map[string]any, len(relations))
	for _, r := range relations {
		props[r] = map[string]any{"type": "string"}
	}
	raw, err := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	})
	if err != nil {
		panic(err)
	}
	return raw
}()

// ExpandQueries builds the search query set for a note. LLM-suggested
// queries come first, then the cheap templates, deduplicated preserving
// order and truncated to maxQueries. Any LLM failure degrades to the
// cheap set alone.
func ExpandQueries(ctx context.Context, router *llm.Router, title, content string, maxQueries int) []string {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	topic := title
	if topic == "" {
		topic = truncateRunes(content, topicRunes)
	}
	cheap := cheapQueries(topic)

	var llmQueries map[string]string
	if router != nil && router.HasProvider() {
		excerpt := truncateRunes(content, excerptRunes)
		prompt := fmt.Sprintf(
			"Return JSON with ANY subset of keys: %v. Each value must be a concise search query derived from:\nTitle: %s\nContent: %s",
			relations, title, excerpt)
		err := router.RouteStructured(ctx, llm.TaskExpandQueries,
			[]llm.Message{{Role: "user", Content: prompt}},
			queriesSchema, "search_queries", &llmQueries)
		if err != nil {
			slog.Warn("Query expansion failed, using cheap templates",
				"title", title, "error", err)
			llmQueries = nil
		}
	}

	seen := make(map[string]struct{}, 2*len(relations))
	queries := make([]string, 0, maxQueries)
	appendQuery := func(q string) {
		if q == "" || len(queries) >= maxQueries {
			return
		}
		if _, dup := seen[q]; dup {
			return
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	for _, r := range relations {
		appendQuery(llmQueries[r])
	}
	for _, r := range relations {
		appendQuery(cheap[r])
	}
	return queries
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
