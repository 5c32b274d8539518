// Package provider defines the thin adapter contract the agent loop uses
// to talk to LLM backends, plus the Anthropic and OpenAI adapters.
package provider

import (
	"context"

	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
)

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	// Parameters is a JSON-schema object: {type:object, properties, required}.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is one invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Request is one model call.
type Request struct {
	System      string
	Messages    []message.WireMessage
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the normalized result of one model call.
type Response struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	ModelID   string
	// Finish is one of the message.Finish* reasons.
	Finish string
	Usage  tokens.Usage
}

// StreamChunk is an incremental text delta. Tool calls never stream; they
// arrive only in the final Response.
type StreamChunk struct {
	Text      string
	Reasoning string
}

// Provider is the adapter contract consumed by the loop.
type Provider interface {
	ID() string
	DefaultModel() string

	// ExcludesCachedInput reports whether the provider's input token count
	// already excludes cached tokens. Drives the accounting in tokens.
	ExcludesCachedInput() bool

	// Cost returns the price sheet for a model id.
	Cost(modelID string) tokens.Cost

	// Complete performs a non-streaming call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream performs a streaming call, invoking onDelta for each text
	// delta. Adapters that cannot stream with tools degrade to Complete.
	Stream(ctx context.Context, req Request, onDelta func(StreamChunk)) (*Response, error)
}
