// Package llm routes task-keyed completion, embedding, and streaming
// requests across the configured providers with graceful fallback.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Canonical task names used across the pipeline.
const (
	TaskSemanticChunker  = "semanticChunker"
	TaskEvaluateNovelty  = "evaluateNovelty"
	TaskWebSearchSummary = "webSearchSummary"
	TaskMindMapExtract   = "mindMapExtract"
	TaskExpandQueries    = "expandQueries"
	TaskGenerateInsight  = "generateInsight"
	TaskConstellation    = "constellation"
	TaskCounterInsight   = "counterInsight"
	TaskRunSelfEvolution = "runSelfEvolution"
	TaskPlanNextStep     = "planNextStep"
)

// defaultTaskModels is the single source of truth for model selection per
// task. Individual entries are overridable via LLM_MODEL_<TASK>.
var defaultTaskModels = map[string]string{
	TaskSemanticChunker:  "groq/llama-3.1-8b-instant",
	TaskEvaluateNovelty:  "groq/llama-3.1-8b-instant",
	TaskWebSearchSummary: "groq/llama-3.1-8b-instant",
	TaskMindMapExtract:   "groq/llama-3.1-8b-instant",
	TaskExpandQueries:    "groq/llama-3.1-8b-instant",
	TaskPlanNextStep:     "deepseek/deepseek-v3.1-thinking",
	TaskGenerateInsight:  "google/gemini-2.5-pro",
	TaskConstellation:    "google/gemini-2.5-pro",
	TaskCounterInsight:   "google/gemini-2.0-flash",
	TaskRunSelfEvolution: "google/gemini-2.5-pro",
}

const fallbackModel = "google/gemini-2.0-flash"

// Config selects and credentials the provider chain.
type Config struct {
	GatewayURL   string // OpenAI-compatible AI gateway
	GatewayToken string
	OpenAIAPIKey string // structured-output SDK provider
	OpenAIModel  string // model used when routing a task to OpenAI directly
	GroqAPIKey   string // lightweight fallback provider
	GoogleAPIKey string // direct canonical-model provider

	DefaultProvider string   // optional LLM_DEFAULT_PROVIDER override
	HeavyTasks      []string // skip the lightweight provider
	DistillTasks    []string // go straight to the gateway

	EmbeddingModel string
	FakeEmbeddings bool // deterministic hash vectors, used by tests
	EmbeddingDim   int
}

// ConfigFromEnv builds a Config from the process environment.
func ConfigFromEnv() Config {
	cfg := Config{
		GatewayURL:      os.Getenv("AI_GATEWAY_URL"),
		GatewayToken:    os.Getenv("AI_GATEWAY_TOKEN"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		GroqAPIKey:      os.Getenv("GROQ_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DefaultProvider: os.Getenv("LLM_DEFAULT_PROVIDER"),
		EmbeddingModel:  os.Getenv("EMBEDDING_MODEL"),
		FakeEmbeddings:  os.Getenv("EMBEDDINGS_FAKE") == "1",
	}
	if cfg.GoogleAPIKey == "" {
		cfg.GoogleAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	cfg.HeavyTasks = splitCSV(os.Getenv("LLM_HEAVY_TASKS"))
	if len(cfg.HeavyTasks) == 0 {
		cfg.HeavyTasks = []string{TaskGenerateInsight, TaskConstellation, TaskRunSelfEvolution}
	}
	cfg.DistillTasks = splitCSV(os.Getenv("LLM_DISTILL_TASKS"))
	return cfg
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Router dispatches task-keyed LLM calls over the configured provider
// chain and records usage.
type Router struct {
	cfg        Config
	taskModels map[string]string
	heavy      map[string]bool
	distill    map[string]bool

	gateway provider
	openai  provider
	groq    provider
	google  provider

	usage *UsageRecorder
}

// NewRouter builds a Router. Providers without credentials are absent
// from the chain; a router with no providers still serves fake
// embeddings and fails Route calls with ErrNoProvider.
func NewRouter(cfg Config) *Router {
	r := &Router{
		cfg:        cfg,
		taskModels: make(map[string]string, len(defaultTaskModels)),
		heavy:      make(map[string]bool, len(cfg.HeavyTasks)),
		distill:    make(map[string]bool, len(cfg.DistillTasks)),
		usage:      NewUsageRecorder(),
	}
	for task, model := range defaultTaskModels {
		r.taskModels[task] = model
	}
	for task := range r.taskModels {
		if override := os.Getenv("LLM_MODEL_" + strings.ToUpper(task)); override != "" {
			r.taskModels[task] = override
		}
	}
	for _, t := range cfg.HeavyTasks {
		r.heavy[t] = true
	}
	for _, t := range cfg.DistillTasks {
		r.distill[t] = true
	}

	if cfg.GatewayURL != "" && cfg.GatewayToken != "" {
		r.gateway = newOpenAICompat("gateway", cfg.GatewayURL, cfg.GatewayToken, nil, true)
	}
	if cfg.OpenAIAPIKey != "" {
		model := cfg.OpenAIModel
		r.openai = newOpenAICompat("openai", "", cfg.OpenAIAPIKey,
			func(string) string { return model }, true)
	}
	if cfg.GroqAPIKey != "" {
		r.groq = newOpenAICompat("groq", "https://api.groq.com/openai", cfg.GroqAPIKey,
			shortModelID, false)
	}
	if cfg.GoogleAPIKey != "" {
		r.google = newGoogleProvider(cfg.GoogleAPIKey, "")
	}
	return r
}

// Usage exposes the process-wide usage counter.
func (r *Router) Usage() *UsageRecorder { return r.usage }

// ModelForTask resolves the model id serving a task.
func (r *Router) ModelForTask(task string) string {
	if m, ok := r.taskModels[task]; ok {
		return m
	}
	return fallbackModel
}

// HasProvider reports whether at least one chat provider is configured.
func (r *Router) HasProvider() bool {
	return r.gateway != nil || r.openai != nil || r.groq != nil || r.google != nil
}

// chain returns the provider preference order for a task.
// Resolution: gateway, then the structured SDK provider, then the
// lightweight fallback, then the direct canonical-model provider. Heavy
// tasks skip the lightweight tier; distillation tasks prefer the gateway
// regardless of the default-provider override.
func (r *Router) chain(task string) []provider {
	byName := map[string]provider{
		"gateway": r.gateway,
		"openai":  r.openai,
		"groq":    r.groq,
		"google":  r.google,
	}

	order := []string{"gateway", "openai", "groq", "google"}
	if r.cfg.DefaultProvider != "" && !r.distill[task] {
		preferred := r.cfg.DefaultProvider
		reordered := []string{preferred}
		for _, n := range order {
			if n != preferred {
				reordered = append(reordered, n)
			}
		}
		order = reordered
	}

	chain := make([]provider, 0, len(order))
	for _, n := range order {
		p := byName[n]
		if p == nil {
			continue
		}
		if n == "groq" && r.heavy[task] {
			continue
		}
		chain = append(chain, p)
	}
	return chain
}

// Route normalizes chat-style messages to a single completion, walking
// the provider chain until one succeeds.
func (r *Router) Route(ctx context.Context, task string, messages []Message, opts *Options) (*Completion, error) {
	chain := r.chain(task)
	if len(chain) == 0 {
		return nil, ErrNoProvider
	}
	model := r.ModelForTask(task)

	var lastErr error
	for _, p := range chain {
		start := time.Now()
		completion, err := p.invoke(ctx, model, messages, opts)
		if err != nil {
			lastErr = err
			slog.Warn("LLM provider failed, trying next",
				"task", task, "provider", p.name(), "error", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		r.recordUsage(completion, messages, time.Since(start))
		return completion, nil
	}
	return nil, fmt.Errorf("all providers failed for task %s: %w", task, lastErr)
}

func (r *Router) recordUsage(c *Completion, messages []Message, wall time.Duration) {
	in, out := c.InputTokens, c.OutputTokens
	if in == 0 {
		for _, m := range messages {
			in += estimateTokens(m.Content)
		}
	}
	if out == 0 {
		out = estimateTokens(c.Content)
	}
	r.usage.Record(c.Provider, c.Model, in, out, wall)
}

// Text is a convenience wrapper returning just the completion text for a
// single user prompt.
func (r *Router) Text(ctx context.Context, task, prompt string, temperature *float32) (string, error) {
	completion, err := r.Route(ctx, task, []Message{{Role: "user", Content: prompt}}, &Options{Temperature: temperature})
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// Temp returns a pointer to a float32 temperature; call sites read better
// with llm.Temp(0.7) than with a local variable dance.
func Temp(v float32) *float32 { return &v }
