package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// jsonOnlyInstruction precedes every RouteJSON attempt. Small models wrap
// documents in prose or fences unless told not to up front.
const jsonOnlyInstruction = "Return ONLY valid JSON. No commentary, no code fences."

// RouteJSON routes a task expected to answer with a JSON document and
// unmarshals the reply into out. A system instruction forbidding prose
// and fences is prepended to the caller's messages; replies that still
// arrive wrapped get one cleanup pass before the call is declared a
// BadOutputError.
func (r *Router) RouteJSON(ctx context.Context, task string, messages []Message, opts *Options, out any) error {
	withSystem := make([]Message, 0, len(messages)+1)
	withSystem = append(withSystem, Message{Role: "system", Content: jsonOnlyInstruction})
	withSystem = append(withSystem, messages...)

	completion, err := r.Route(ctx, task, withSystem, opts)
	if err != nil {
		return err
	}

	raw := completion.Content
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	cleaned := extractJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	// One repair round trip. Small models fence or truncate often enough
	// that this pays for itself.
	slog.Debug("Retrying malformed JSON output", "task", task)
	repair := []Message{
		{Role: "system", Content: "You fix malformed JSON. Reply with only the corrected JSON document, no prose, no fences."},
		{Role: "user", Content: raw},
	}
	repaired, err := r.Route(ctx, task, repair, &Options{Temperature: Temp(0)})
	if err != nil {
		return &BadOutputError{Task: task, Raw: raw, Err: err}
	}
	if err := json.Unmarshal([]byte(extractJSON(repaired.Content)), out); err != nil {
		return &BadOutputError{Task: task, Raw: raw, Err: err}
	}
	return nil
}

// RouteStructured is RouteJSON with schema enforcement. Providers with
// native structured output receive the schema in the request; either way
// the reply is validated against the compiled schema before unmarshaling,
// so callers can trust required fields exist.
func (r *Router) RouteStructured(ctx context.Context, task string, messages []Message, schema json.RawMessage, schemaName string, out any) error {
	compiled, err := compileSchema(schema, schemaName)
	if err != nil {
		return fmt.Errorf("compiling %s schema: %w", schemaName, err)
	}

	opts := &Options{JSONSchema: schema, SchemaName: schemaName, Temperature: Temp(0.7)}

	var doc any
	if err := r.RouteJSON(ctx, task, messages, opts, &doc); err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return &BadOutputError{Task: task, Err: fmt.Errorf("schema validation: %w", err)}
	}

	// Round-trip through JSON to land in the caller's typed struct.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return &BadOutputError{Task: task, Err: err}
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return &BadOutputError{Task: task, Err: err}
	}
	return nil
}

func compileSchema(schema json.RawMessage, name string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schema)))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// extractJSON strips markdown fences and leading/trailing prose, keeping
// the outermost JSON object or array.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}
