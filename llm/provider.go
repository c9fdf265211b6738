package llm

import (
	"context"
	"encoding/json"
)

// Provider is the boundary to the model backend. The assessment interview
// calls it with a growing conversation and no schema; the content pipeline
// calls it single-turn with a schema for structured output.
type Provider interface {
	// Generate sends the request to the model. When req.Schema is set the
	// response Content is JSON validated against it; otherwise Content is
	// the raw text of the reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// DefaultMaxTokens is the response cap applied when a request does not set
// its own.
const DefaultMaxTokens = 4096

// Request describes one model call.
type Request struct {
	// System sets the model's role and constraints.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Schema, when set, makes the provider use its native structured-output
	// mechanism and validate the reply against the definition.
	Schema *Schema

	// MaxTokens caps the response length. Zero value means DefaultMaxTokens.
	MaxTokens int

	// Temperature controls randomness, 0.0 - 1.0. Zero value means the
	// provider default.
	Temperature float64
}

// Message is a single conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema names a JSON Schema the response must conform to.
type Schema struct {
	// Name identifies the schema, kebab-case, e.g. "course-plan".
	Name string

	// Description tells the model what the schema represents.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the model's output.
type Response struct {
	// Content is the validated JSON object when the request carried a
	// Schema, or the raw reply text otherwise.
	Content json.RawMessage

	// Usage reports token consumption for this request.
	Usage Usage

	// Model is the model that actually served the request.
	Model string

	// StopReason is normalized to "end" or "max_tokens".
	StopReason string
}

// Text returns Content as a string. Meaningful for schema-less requests,
// where Content is the raw reply.
func (r *Response) Text() string {
	return string(r.Content)
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
