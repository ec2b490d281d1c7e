package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
	"github.com/synapse-notes/synapse/pkg/vectorindex"
)

const (
	lexicalTopN = 40
	vectorTopN  = 20
	rrfK        = 60
)

// NoteSource is the slice of the note store retrieval needs.
type NoteSource interface {
	GetNotes(ctx context.Context, limit int) ([]*models.Note, error)
	GetNoteIDsForChunkIDs(ctx context.Context, chunkIDs []string) (map[string]string, error)
}

// Searcher runs hybrid candidate retrieval against the note store and the
// vector index.
type Searcher struct {
	store  NoteSource
	index  *vectorindex.Index
	router *llm.Router
}

// NewSearcher wires a Searcher.
func NewSearcher(store NoteSource, index *vectorindex.Index, router *llm.Router) *Searcher {
	return &Searcher{store: store, index: index, router: router}
}

// RetrieveCandidates expands the source note into queries and returns up
// to topK candidate note ids, source excluded, best first.
func (s *Searcher) RetrieveCandidates(ctx context.Context, source *models.Note, topK int) ([]string, error) {
	queries := ExpandQueries(ctx, s.router, source.Title, source.Content, DefaultMaxQueries)
	return s.Search(ctx, queries, source.ID, topK)
}

// Search runs the hybrid pipeline for an explicit query set. excludeNoteID
// may be empty when there is no source note to drop.
func (s *Searcher) Search(ctx context.Context, queries []string, excludeNoteID string, topK int) ([]string, error) {
	if len(queries) == 0 || topK <= 0 {
		return nil, nil
	}
	notes, err := s.store.GetNotes(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing notes for retrieval: %w", err)
	}
	if len(notes) == 0 {
		return nil, nil
	}

	lexical := lexicalRank(queries, notes, lexicalTopN)

	vector, err := s.vectorRank(ctx, queries, excludeNoteID, vectorTopN)
	if err != nil {
		return nil, err
	}

	fused := rrf([][]string{lexical, vector}, rrfK)

	out := make([]string, 0, topK)
	for _, id := range fused {
		if id == excludeNoteID {
			continue
		}
		out = append(out, id)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// tokenize lowercases and splits on anything non-alphanumeric.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lexicalRank scores each note by summed term frequency of the query
// terms over title plus content, descending, top-n ids.
func lexicalRank(queries []string, notes []*models.Note, topN int) []string {
	terms := make(map[string]struct{})
	for _, q := range queries {
		for _, t := range tokenize(q) {
			terms[t] = struct{}{}
		}
	}

	type scored struct {
		id    string
		score int
	}
	ranked := make([]scored, 0, len(notes))
	for _, n := range notes {
		var score int
		for _, tok := range tokenize(n.Title + " " + n.Content) {
			if _, hit := terms[tok]; hit {
				score++
			}
		}
		ranked = append(ranked, scored{id: n.ID, score: score})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	return ids
}

// vectorRank embeds the queries, averages the vectors of the predominant
// dimension, and maps the nearest chunks back to note ids. Returns up to
// topN note ids, deduplicated in distance order, source excluded.
func (s *Searcher) vectorRank(ctx context.Context, queries []string, excludeNoteID string, topN int) ([]string, error) {
	if s.index == nil || s.index.Size() == 0 {
		return nil, nil
	}
	embeddings, err := s.router.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embedding queries: %w", err)
	}

	mean := meanVector(embeddings)
	if mean == nil {
		return nil, nil
	}

	hits, err := s.index.Search(mean, 2*topN)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	chunkIDs := make([]string, len(hits))
	for i, h := range hits {
		chunkIDs[i] = h.ID
	}
	noteByChunk, err := s.store.GetNoteIDsForChunkIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("mapping chunks to notes: %w", err)
	}

	seen := make(map[string]struct{}, topN)
	ids := make([]string, 0, topN)
	for _, h := range hits {
		noteID, ok := noteByChunk[h.ID]
		if !ok || noteID == excludeNoteID {
			continue
		}
		if _, dup := seen[noteID]; dup {
			continue
		}
		seen[noteID] = struct{}{}
		ids = append(ids, noteID)
		if len(ids) == topN {
			break
		}
	}
	return ids, nil
}

// meanVector averages the vectors sharing the predominant dimension.
// Empty vectors are dropped; nil means nothing usable remained.
func meanVector(vectors [][]float32) []float32 {
	dimVotes := make(map[int]int)
	for _, v := range vectors {
		if len(v) > 0 {
			dimVotes[len(v)]++
		}
	}
	var dim, best int
	for d, votes := range dimVotes {
		if votes > best {
			dim, best = d, votes
		}
	}
	if dim == 0 {
		return nil
	}

	mean := make([]float32, dim)
	var count int
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i := range v {
			mean[i] += v[i]
		}
		count++
	}
	for i := range mean {
		mean[i] /= float32(count)
	}
	return mean
}

// rrf fuses ranked id lists by reciprocal rank with constant k.
func rrf(lists [][]string, k int) []string {
	scores := make(map[string]float64)
	order := make([]string, 0)
	for _, list := range lists {
		for rank, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1 / float64(k+rank+1)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}
