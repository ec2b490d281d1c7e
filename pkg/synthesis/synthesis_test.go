package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

func insightJSON(mode string, conviction float64) string {
	return fmt.Sprintf(`{
		"mode": %q,
		"reframedProblem": "p",
		"insightCore": "core insight",
		"selectedHypothesisName": "h1",
		"hypotheses": [],
		"eurekaMarkers": {"suddennessProxy": 0.5, "fluency": 0.6, "conviction": %g, "positiveAffect": 0.4},
		"bayesianSurprise": 0.3,
		"evidenceRefs": [{"noteId": "n1", "quote": "q"}],
		"test": "t",
		"risks": []
	}`, mode, conviction)
}

// insightServer replies with the next canned insight per call.
func insightServer(t *testing.T, replies ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": replies[n]},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	return server, &calls
}

type fakeNotes map[string]*models.Note

func (f fakeNotes) GetNote(_ context.Context, id string) (*models.Note, error) {
	n, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("note %s not found", id)
	}
	return n, nil
}

type fakeRetriever struct{ ids []string }

func (f *fakeRetriever) RetrieveCandidates(context.Context, *models.Note, int) ([]string, error) {
	return f.ids, nil
}

func TestEvidenceFor_LeadingParagraphsTagged(t *testing.T) {
	ev := evidenceFor(
		&models.Note{ID: "a", Content: "p1\n\np2\n\np3"},
		&models.Note{ID: "b", Content: "q1"},
	)
	require.Len(t, ev, 3, "two from the first note, one from the second")
	assert.Equal(t, "a", ev[0].noteID)
	assert.Equal(t, "p2", ev[1].text)
	assert.Equal(t, "b", ev[2].noteID)
}

func TestPairwiseFusion_DiscardsNoneMode(t *testing.T) {
	server, _ := insightServer(t, insightJSON("analogy", 0.8))
	defer server.Close()
	router := llm.NewRouter(llm.Config{GatewayURL: server.URL, GatewayToken: "t"})
	engine := NewEngine(router, fakeNotes{}, &fakeRetriever{})

	source := &models.Note{ID: "src", Content: "source content"}
	candidates := []*models.Note{
		{ID: "c1", Content: "candidate one"},
		{ID: "c2", Content: "candidate two"},
	}
	insights := engine.PairwiseFusion(context.Background(), source, candidates)

	require.Len(t, insights, 2)
	assert.Equal(t, "c1", insights[0].CandidateNoteID)
	assert.Equal(t, []string{"src", "c2"}, insights[1].SourceNoteIDs)
}

func TestPairwiseFusion_AllNone(t *testing.T) {
	server, _ := insightServer(t, insightJSON("none", 0.1))
	defer server.Close()
	router := llm.NewRouter(llm.Config{GatewayURL: server.URL, GatewayToken: "t"})
	engine := NewEngine(router, fakeNotes{}, &fakeRetriever{})

	insights := engine.PairwiseFusion(context.Background(),
		&models.Note{ID: "src", Content: "x"},
		[]*models.Note{{ID: "c1", Content: "y"}})
	assert.Empty(t, insights)
}

func TestPairwiseFusion_NoProviderDropsAll(t *testing.T) {
	router := llm.NewRouter(llm.Config{})
	engine := NewEngine(router, fakeNotes{}, &fakeRetriever{})

	insights := engine.PairwiseFusion(context.Background(),
		&models.Note{ID: "src", Content: "x"},
		[]*models.Note{{ID: "c1", Content: "y"}})
	assert.Empty(t, insights, "provider failures drop pairs instead of failing the phase")
}

func TestConstellation_PicksHighestConviction(t *testing.T) {
	server, calls := insightServer(t,
		insightJSON("bridge", 0.4),
		insightJSON("bridge", 0.9),
	)
	defer server.Close()
	router := llm.NewRouter(llm.Config{GatewayURL: server.URL, GatewayToken: "t"})

	notes := fakeNotes{
		"a":  {ID: "a", Content: "partner"},
		"b1": {ID: "b1", Content: "bridge one"},
		"b2": {ID: "b2", Content: "bridge two"},
	}
	// Retriever returns source and partner too; both must be skipped and
	// the bridge cap still honored.
	retriever := &fakeRetriever{ids: []string{"src", "a", "b1", "b2", "b3"}}
	engine := NewEngine(router, notes, retriever)

	source := &models.Note{ID: "src", Content: "source"}
	top := &models.GeneratedInsight{CandidateNoteID: "a"}
	best := engine.Constellation(context.Background(), source, top)

	require.NotNil(t, best)
	assert.Equal(t, int32(2), calls.Load(), "at most two bridges generate")
	assert.InDelta(t, 0.9, best.EurekaMarkers.Conviction, 1e-9)
	assert.Equal(t, []string{"src", "a", "b2"}, best.SourceNoteIDs)
}

func TestConstellation_NoPartner(t *testing.T) {
	engine := NewEngine(llm.NewRouter(llm.Config{}), fakeNotes{}, &fakeRetriever{})
	assert.Nil(t, engine.Constellation(context.Background(), &models.Note{ID: "s"}, nil))
	assert.Nil(t, engine.Constellation(context.Background(), &models.Note{ID: "s"},
		&models.GeneratedInsight{CandidateNoteID: "missing"}))
}

func TestMergeConstellation(t *testing.T) {
	weak := &models.GeneratedInsight{EurekaMarkers: models.EurekaMarkers{Conviction: 0.3}}
	mid := &models.GeneratedInsight{EurekaMarkers: models.EurekaMarkers{Conviction: 0.5}}
	strong := &models.GeneratedInsight{EurekaMarkers: models.EurekaMarkers{Conviction: 0.9}}

	// Stronger constellation takes the lead and the list stays at 3.
	merged := MergeConstellation([]*models.GeneratedInsight{mid, weak, weak}, strong, 3)
	require.Len(t, merged, 3)
	assert.Same(t, strong, merged[0])
	assert.Same(t, mid, merged[1])

	// Weaker constellation changes nothing.
	unchanged := MergeConstellation([]*models.GeneratedInsight{mid}, weak, 3)
	require.Len(t, unchanged, 1)
	assert.Same(t, mid, unchanged[0])

	// Nil constellation is a no-op.
	assert.Len(t, MergeConstellation([]*models.GeneratedInsight{mid}, nil, 3), 1)
}
