// Package message defines the message and part model shared by the store,
// the agent loop and the provider adapters.
//
// A message is an ordered turn inside a session; parts are the typed units
// of content attached to it. Parts form a discriminated union persisted as
// opaque JSON; see part.go.
package message

// Role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Finish reasons reported on completed assistant messages.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content-filter"
	FinishToolCalls     = "tool-calls"
	FinishUnknown       = "unknown"
)

// ModelRef identifies a provider + model pair.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// OutputFormat requests structured output from the loop.
type OutputFormat struct {
	Type       string         `json:"type"` // "text" | "json_schema"
	Schema     map[string]any `json:"schema,omitempty"`
	RetryCount int            `json:"retryCount,omitempty"`
}

// CacheTokens splits cached token counts.
type CacheTokens struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Tokens is the normalized token usage attached to assistant messages and
// step-finish parts.
type Tokens struct {
	Input     int64       `json:"input"`
	Output    int64       `json:"output"`
	Reasoning int64       `json:"reasoning"`
	Cache     CacheTokens `json:"cache"`
	Total     int64       `json:"total"`
}

// Time carries creation/completion timestamps in unix milliseconds.
type Time struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// Info is a message row. Role selects which of the role-specific fields
// are meaningful; the store persists everything but id/sessionID as one
// JSON document.
type Info struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      Role   `json:"role"`
	Time      Time   `json:"time"`

	// User fields.
	Agent  string          `json:"agent,omitempty"`
	Model  ModelRef        `json:"model,omitempty"`
	System string          `json:"system,omitempty"`
	Format *OutputFormat   `json:"format,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`

	// Assistant fields.
	ParentID   string  `json:"parentID,omitempty"`
	ProviderID string  `json:"providerID,omitempty"`
	ModelID    string  `json:"modelID,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	Tokens     Tokens  `json:"tokens,omitempty"`
	Finish     string  `json:"finish,omitempty"`
	Error      *Error  `json:"error,omitempty"`
	Summary    bool    `json:"summary,omitempty"`
	Structured any     `json:"structured,omitempty"`
}

// WithParts bundles a message with its parts, the unit the loop works on.
type WithParts struct {
	Info  Info   `json:"info"`
	Parts []Part `json:"parts"`
}
