package mcp

import (
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

func TestBridgeToolNaming(t *testing.T) {
	var connected atomic.Bool
	b := newBridgeTool("github", mcpgo.Tool{Name: "search_issues"}, nil, &connected)
	if b.Name() != "github_search_issues" {
		t.Errorf("name = %q", b.Name())
	}
	if b.Parallel() {
		t.Error("bridge tools must not be parallel-safe")
	}
}

func TestBridgeToolParameters(t *testing.T) {
	var connected atomic.Bool
	b := newBridgeTool("srv", mcpgo.Tool{
		Name: "t",
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
	}, nil, &connected)

	params := b.Parameters()
	if params["type"] != "object" {
		t.Errorf("type = %v", params["type"])
	}
	props, ok := params["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Errorf("properties = %v", params["properties"])
	}
}
