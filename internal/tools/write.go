package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteTool creates or overwrites a file.
type WriteTool struct{}

// NewWrite creates the write tool.
func NewWrite() *WriteTool { return &WriteTool{} }

func (t *WriteTool) Name() string { return "write" }
func (t *WriteTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if needed or overwriting it."
}
func (t *WriteTool) Parallel() bool { return false }

func (t *WriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path of the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"filePath", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	path := resolvePath(call.Dir, strArg(args, "filePath"))
	content := strArg(args, "content")

	_, statErr := os.Stat(path)
	exists := statErr == nil

	ok, err := call.Allow(ctx, "write", path, map[string]any{"exists": exists})
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("write")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Errorf("create directory %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("write %s: %v", path, err)
	}

	verb := "Created"
	if exists {
		verb = "Overwrote"
	}
	return &Result{
		Output: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)),
		Title:  relTitle(call.Dir, path),
		Metadata: map[string]any{
			"bytes":  len(content),
			"exists": exists,
		},
	}
}
