package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/gocode/internal/tools"
)

// bridgeTool adapts one remote MCP tool to the local tool contract. Its
// registry name is "<server>_<tool>" to keep servers from colliding.
type bridgeTool struct {
	server    string
	remote    mcpgo.Tool
	client    *mcpclient.Client
	connected *atomic.Bool
}

func newBridgeTool(server string, remote mcpgo.Tool, client *mcpclient.Client, connected *atomic.Bool) *bridgeTool {
	return &bridgeTool{server: server, remote: remote, client: client, connected: connected}
}

func (b *bridgeTool) Name() string {
	return b.server + "_" + b.remote.Name
}

func (b *bridgeTool) Description() string {
	if b.remote.Description != "" {
		return b.remote.Description
	}
	return "Tool " + b.remote.Name + " from MCP server " + b.server
}

// Parallel is false: remote tools carry unknown side effects.
func (b *bridgeTool) Parallel() bool { return false }

func (b *bridgeTool) Parameters() map[string]any {
	data, err := json.Marshal(b.remote.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func (b *bridgeTool) Execute(ctx context.Context, call tools.Call, args map[string]any) *tools.Result {
	if !b.connected.Load() {
		return tools.Errorf("mcp server %s is not connected", b.server)
	}
	if ok, err := call.Allow(ctx, "mcp", b.Name(), args); err != nil {
		return tools.Errorf("permission check: %v", err)
	} else if !ok {
		return tools.Denied("mcp")
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.remote.Name
	req.Params.Arguments = args

	resp, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.Errorf("mcp call %s: %v", b.Name(), err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	output := strings.Join(texts, "\n")
	if resp.IsError {
		if output == "" {
			output = "tool reported an error"
		}
		return &tools.Result{Output: output, Error: output, IsError: true,
			Metadata: map[string]any{"server": b.server}}
	}
	return &tools.Result{
		Output:   output,
		Title:    b.remote.Name,
		Metadata: map[string]any{"server": b.server},
	}
}
