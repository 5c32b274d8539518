package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditTool performs exact string replacement in a file.
type EditTool struct{}

// NewEdit creates the edit tool.
func NewEdit() *EditTool { return &EditTool{} }

func (t *EditTool) Name() string { return "edit" }
func (t *EditTool) Description() string {
	return "Replace an exact string in a file. The target string must be unique unless replaceAll is set."
}
func (t *EditTool) Parallel() bool { return false }

func (t *EditTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path of the file to edit",
			},
			"oldString": map[string]any{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"newString": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
			"replaceAll": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring uniqueness",
			},
		},
		"required": []string{"filePath", "oldString", "newString"},
	}
}

func (t *EditTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	path := resolvePath(call.Dir, strArg(args, "filePath"))
	oldString := strArg(args, "oldString")
	newString := strArg(args, "newString")
	if oldString == newString {
		return Errorf("oldString and newString are identical")
	}

	ok, err := call.Allow(ctx, "edit", path, nil)
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("edit")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", path, err)
	}
	content := string(data)

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return Errorf("oldString not found in %s", path)
	case count > 1 && !boolArg(args, "replaceAll"):
		return Errorf("oldString appears %d times in %s; pass replaceAll or disambiguate", count, path)
	}

	replaced := count
	if boolArg(args, "replaceAll") {
		content = strings.ReplaceAll(content, oldString, newString)
	} else {
		content = strings.Replace(content, oldString, newString, 1)
		replaced = 1
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("write %s: %v", path, err)
	}

	return &Result{
		Output:   fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path),
		Title:    relTitle(call.Dir, path),
		Metadata: map[string]any{"replacements": replaced},
	}
}
