package provider

import (
	"encoding/json"
	"testing"
)

func TestAnthropicToolRequiredFields(t *testing.T) {
	// Schemas that went through json.Unmarshal carry "required" as []any.
	var decoded map[string]any
	if err := json.Unmarshal([]byte(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query", "limit"]
	}`), &decoded); err != nil {
		t.Fatal(err)
	}

	a := NewAnthropic("key", "")
	params := a.buildParams(Request{
		Model: "claude-sonnet-4-5",
		Tools: []ToolDefinition{
			{Name: "typed", Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			}},
			{Name: "decoded", Parameters: decoded},
		},
	})

	if len(params.Tools) != 2 {
		t.Fatalf("tools = %d", len(params.Tools))
	}
	typed := params.Tools[0].OfTool.InputSchema.Required
	if len(typed) != 1 || typed[0] != "path" {
		t.Errorf("typed required = %v", typed)
	}
	got := params.Tools[1].OfTool.InputSchema.Required
	if len(got) != 2 || got[0] != "query" || got[1] != "limit" {
		t.Errorf("decoded required = %v", got)
	}
}

func TestRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{"string slice", []string{"a", "b"}, 2},
		{"any slice", []any{"a", 3, "b"}, 2},
		{"nil", nil, 0},
		{"wrong type", "a", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requiredFields(tt.in); len(got) != tt.want {
				t.Errorf("requiredFields(%v) = %v", tt.in, got)
			}
		})
	}
}
