package tools

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const globMaxResults = 100

// GlobTool finds files by pattern, newest first.
type GlobTool struct{}

// NewGlob creates the glob tool.
func NewGlob() *GlobTool { return &GlobTool{} }

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern such as **/*.go, sorted by modification time."
}
func (t *GlobTool) Parallel() bool { return true }

func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern to match file paths against",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search in (defaults to the working directory)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	root := resolvePath(call.Dir, strArg(args, "path"))
	if root == "" {
		root = call.Dir
	}

	ok, err := call.Allow(ctx, "search", root, nil)
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("search")
	}

	matcher, err := glob.Compile(strArg(args, "pattern"), '/')
	if err != nil {
		return Errorf("bad pattern: %v", err)
	}

	type hit struct {
		path    string
		modTime int64
	}
	var hits []hit
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !matcher.Match(filepath.ToSlash(rel)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hits = append(hits, hit{path: rel, modTime: info.ModTime().UnixMilli()})
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return Aborted()
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].modTime > hits[j].modTime })
	truncated := false
	if len(hits) > globMaxResults {
		hits = hits[:globMaxResults]
		truncated = true
	}

	if len(hits) == 0 {
		return Ok("No files matched")
	}
	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.path)
		b.WriteString("\n")
	}
	if truncated {
		b.WriteString("(results truncated)\n")
	}
	return &Result{
		Output:   b.String(),
		Title:    strArg(args, "pattern"),
		Metadata: map[string]any{"count": len(hits), "truncated": truncated},
	}
}
