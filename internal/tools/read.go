package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const readDefaultLimit = 2000

// ReadTool reads a text file with line numbers.
type ReadTool struct{}

// NewRead creates the read tool.
func NewRead() *ReadTool { return &ReadTool{} }

func (t *ReadTool) Name() string { return "read" }
func (t *ReadTool) Description() string {
	return "Read a file from the filesystem, returning numbered lines. Supports offset and limit for large files."
}
func (t *ReadTool) Parallel() bool { return true }

func (t *ReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"offset": map[string]any{
				"type":        "number",
				"description": "Line number to start reading from (1-based)",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "Maximum number of lines to read",
			},
		},
		"required": []string{"filePath"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	path := resolvePath(call.Dir, strArg(args, "filePath"))

	ok, err := call.Allow(ctx, "read", path, nil)
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("read")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", path, err)
	}

	lines := strings.Split(string(data), "\n")
	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", readDefaultLimit)

	if offset > len(lines) {
		return Errorf("offset %d is past the end of %s (%d lines)", offset, path, len(lines))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%5d| %s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-end)
	}

	return &Result{
		Output: b.String(),
		Title:  relTitle(call.Dir, path),
		Metadata: map[string]any{
			"lines": len(lines),
		},
	}
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func relTitle(dir, path string) string {
	if dir == "" {
		return path
	}
	if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
