package llm

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// StreamEvent is one increment of a streamed completion. The final event
// has Done set and carries the assembled text.
type StreamEvent struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done"`
	Text  string `json:"text,omitempty"`
}

// simulatedChunk is the token-batch width used when the serving provider
// cannot stream natively.
const simulatedChunk = 60

// Stream routes a task and emits the reply incrementally. OpenAI-compatible
// providers stream natively; everything else completes the call and replays
// the text in fixed-size chunks so consumers see one behavior.
func (r *Router) Stream(ctx context.Context, task string, messages []Message, opts *Options) (<-chan StreamEvent, error) {
	chain := r.chain(task)
	if len(chain) == 0 {
		return nil, ErrNoProvider
	}
	model := r.ModelForTask(task)

	if compat, ok := chain[0].(*openaiCompatProvider); ok {
		ch, err := compat.stream(ctx, r, model, messages, opts)
		if err == nil {
			return ch, nil
		}
		// Fall through to the blocking path on stream setup failure.
	}

	completion, err := r.Route(ctx, task, messages, opts)
	if err != nil {
		return nil, err
	}
	return replay(ctx, completion.Content), nil
}

func replay(ctx context.Context, text string) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		// Chunk on rune boundaries so multi-byte characters never split
		// across tokens.
		runes := []rune(text)
		for i := 0; i < len(runes); i += simulatedChunk {
			end := i + simulatedChunk
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case ch <- StreamEvent{Token: string(runes[i:end])}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- StreamEvent{Done: true, Text: text}:
		case <-ctx.Done():
		}
	}()
	return ch
}

func (p *openaiCompatProvider) stream(ctx context.Context, r *Router, model string, messages []Message, opts *Options) (<-chan StreamEvent, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.resolveModel(model),
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
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
	}

	start := time.Now()
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, &ProviderError{Provider: p.providerName, Err: err}
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer stream.Close()

		var assembled []byte
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			token := resp.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			assembled = append(assembled, token...)
			select {
			case ch <- StreamEvent{Token: token}:
			case <-ctx.Done():
				return
			}
		}

		text := string(assembled)
		r.recordUsage(&Completion{
			Content:  text,
			Provider: p.providerName,
			Model:    req.Model,
		}, messages, time.Since(start))
		select {
		case ch <- StreamEvent{Done: true, Text: text}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
