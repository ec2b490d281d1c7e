package llm

import (
	"sync"
	"time"
)

// ModelUsage accumulates per-model call accounting. Token counts are
// estimates (len/4) unless the provider reported exact numbers.
type ModelUsage struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TimeSec      float64 `json:"time_sec"`
}

// ProviderUsage groups usage per model under one provider.
type ProviderUsage struct {
	Models map[string]*ModelUsage `json:"models"`
	Totals ModelUsage             `json:"totals"`
}

// UsageSnapshot is a point-in-time copy of the process-wide counters.
type UsageSnapshot struct {
	Calls     int                       `json:"calls"`
	Providers map[string]*ProviderUsage `json:"providers"`
}

// UsageRecorder is a process-wide LLM usage counter. It is plugged into
// the router as a post-call hook and is safe for concurrent use.
type UsageRecorder struct {
	mu        sync.Mutex
	calls     int
	providers map[string]*ProviderUsage
}

// NewUsageRecorder returns an empty recorder.
func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{providers: make(map[string]*ProviderUsage)}
}

// Record adds one call's accounting.
func (u *UsageRecorder) Record(provider, model string, inputTokens, outputTokens int, wall time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++

	p, ok := u.providers[provider]
	if !ok {
		p = &ProviderUsage{Models: make(map[string]*ModelUsage)}
		u.providers[provider] = p
	}
	m, ok := p.Models[model]
	if !ok {
		m = &ModelUsage{}
		p.Models[model] = m
	}
	for _, agg := range []*ModelUsage{m, &p.Totals} {
		agg.Calls++
		agg.InputTokens += inputTokens
		agg.OutputTokens += outputTokens
		agg.TimeSec += wall.Seconds()
	}
}

// Calls returns the total number of recorded calls.
func (u *UsageRecorder) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// Snapshot copies the counters, optionally resetting them.
func (u *UsageRecorder) Snapshot(reset bool) UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	snap := UsageSnapshot{
		Calls:     u.calls,
		Providers: make(map[string]*ProviderUsage, len(u.providers)),
	}
	for name, p := range u.providers {
		cp := &ProviderUsage{
			Models: make(map[string]*ModelUsage, len(p.Models)),
			Totals: p.Totals,
		}
		for model, m := range p.Models {
			mc := *m
			cp.Models[model] = &mc
		}
		snap.Providers[name] = cp
	}
	if reset {
		u.calls = 0
		u.providers = make(map[string]*ProviderUsage)
	}
	return snap
}

// estimateTokens is a rough chars/4 heuristic used when a provider does
// not report exact token counts.
func estimateTokens(s string) int {
	return len(s) / 4
}
