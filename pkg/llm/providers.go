package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// callTimeout bounds a single provider HTTP call.
const callTimeout = 60 * time.Second

// Message is one chat-style message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Temperature *float32
	MaxTokens   int
	// JSONSchema, when set, asks the provider for native structured output
	// conforming to the schema. Providers without structured support
	// ignore it and the router falls back to RouteJSON.
	JSONSchema json.RawMessage
	SchemaName string
}

// Completion is the normalized result of one provider call.
type Completion struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// provider is one variant in the router's preference chain.
type provider interface {
	name() string
	// invoke performs a chat completion for the resolved model.
	invoke(ctx context.Context, model string, messages []Message, opts *Options) (*Completion, error)
	// structured reports whether invoke honors Options.JSONSchema.
	structured() bool
}

// openaiCompatProvider talks to any OpenAI-compatible endpoint (the AI
// gateway, OpenAI itself, or the lightweight Groq tier) through the
// go-openai SDK.
type openaiCompatProvider struct {
	providerName string
	client       *openai.Client
	// resolveModel maps a task's canonical "vendor/model" id to whatever
	// this endpoint expects.
	resolveModel func(string) string
	// supportsSchema enables native json_schema response formats.
	supportsSchema bool
}

func newOpenAICompat(name, baseURL, apiKey string, resolve func(string) string, supportsSchema bool) *openaiCompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1") + "/v1"
	}
	cfg.HTTPClient = &http.Client{Timeout: callTimeout}
	if resolve == nil {
		resolve = func(m string) string { return m }
	}
	return &openaiCompatProvider{
		providerName:   name,
		client:         openai.NewClientWithConfig(cfg),
		resolveModel:   resolve,
		supportsSchema: supportsSchema,
	}
}

func (p *openaiCompatProvider) name() string     { return p.providerName }
func (p *openaiCompatProvider) structured() bool { return p.supportsSchema }

func (p *openaiCompatProvider) invoke(ctx context.Context, model string, messages []Message, opts *Options) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.resolveModel(model),
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts != nil {
		if opts.Temperature != nil {
			req.Temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
		if p.supportsSchema && len(opts.JSONSchema) > 0 {
			name := opts.SchemaName
			if name == "" {
				name = "result"
			}
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   name,
					Schema: opts.JSONSchema,
					Strict: false,
				},
			}
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &ProviderError{Provider: p.providerName, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.providerName, Err: fmt.Errorf("empty choices for model %s", req.Model)}
	}
	return &Completion{
		Content:      resp.Choices[0].Message.Content,
		Provider:     p.providerName,
		Model:        req.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// googleProvider calls the Gemini generateContent endpoint directly; it is
// the last link in the chain and handles the canonical models of the
// heavy tasks.
type googleProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newGoogleProvider(apiKey, baseURL string) *googleProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &googleProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

func (p *googleProvider) name() string     { return "google" }
func (p *googleProvider) structured() bool { return false }

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *googleProvider) invoke(ctx context.Context, model string, messages []Message, opts *Options) (*Completion, error) {
	modelID := strings.TrimPrefix(model, "google/")
	if !strings.HasPrefix(modelID, "gemini") {
		// Non-Gemini canonical model routed here as last resort.
		modelID = "gemini-2.0-flash"
	}

	body := geminiRequest{}
	for _, m := range messages {
		switch m.Role {
		case "system":
			body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if opts != nil && (opts.Temperature != nil || opts.MaxTokens > 0) {
		body.GenerationConfig = &geminiGenConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, modelID, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Provider: "google", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Provider: "google", Err: fmt.Errorf("api error: %s", parsed.Error.Message)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "google", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &ProviderError{Provider: "google", Err: fmt.Errorf("no candidates for model %s", modelID)}
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return &Completion{
		Content:      sb.String(),
		Provider:     "google",
		Model:        modelID,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// shortModelID strips the "vendor/" prefix from a canonical model id.
func shortModelID(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
