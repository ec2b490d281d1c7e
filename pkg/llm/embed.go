package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingDimension is the width of vectors produced by Embed. The fake
// generator always honors it; real providers are expected to match.
const EmbeddingDimension = 768

// Embed turns texts into embedding vectors. With FakeEmbeddings set (or
// when no embedding-capable provider is configured) it produces
// deterministic pseudo-vectors so indexing and retrieval stay exercisable
// offline. All returned vectors share one dimension.
func (r *Router) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if r.cfg.FakeEmbeddings {
		return r.fakeEmbed(texts), nil
	}

	for _, p := range []provider{r.gateway, r.openai} {
		compat, ok := p.(*openaiCompatProvider)
		if !ok || compat == nil {
			continue
		}
		vectors, err := compat.embed(ctx, r.cfg.EmbeddingModel, texts)
		if err != nil {
			continue
		}
		for _, t := range texts {
			r.usage.Record(compat.name(), r.cfg.EmbeddingModel, estimateTokens(t), 0, 0)
		}
		return vectors, nil
	}
	return r.fakeEmbed(texts), nil
}

// EmbeddingModel reports the model id Embed uses, so stores can record
// which model produced a persisted vector.
func (r *Router) EmbeddingModel() string {
	return r.cfg.EmbeddingModel
}

func (r *Router) embedDim() int {
	if r.cfg.EmbeddingDim > 0 {
		return r.cfg.EmbeddingDim
	}
	return EmbeddingDimension
}

// fakeEmbed derives a mean-centered unit-ish vector from a seeded PRNG so
// that identical text always maps to the identical vector.
func (r *Router) fakeEmbed(texts []string) [][]float32 {
	dim := r.embedDim()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		h.Write([]byte(t))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))

		v := make([]float32, dim)
		var mean float64
		for j := range v {
			v[j] = rng.Float32()
			mean += float64(v[j])
		}
		mean /= float64(dim)
		var norm float64
		for j := range v {
			v[j] -= float32(mean)
			norm += float64(v[j]) * float64(v[j])
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range v {
				v[j] *= scale
			}
		}
		out[i] = v
	}
	return out
}

func (p *openaiCompatProvider) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(shortModelID(model)),
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.providerName, Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{Provider: p.providerName,
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ProviderError{Provider: p.providerName,
				Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
