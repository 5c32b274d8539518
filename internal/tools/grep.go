package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

const grepMaxMatches = 100

// GrepTool searches file contents with a regular expression.
type GrepTool struct{}

// NewGrep creates the grep tool.
func NewGrep() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression, returning path:line matches."
}
func (t *GrepTool) Parallel() bool { return true }

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search in (defaults to the working directory)",
			},
			"include": map[string]any{
				"type":        "string",
				"description": "Glob filter over file names, e.g. *.go",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
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

	re, err := regexp.Compile(strArg(args, "pattern"))
	if err != nil {
		return Errorf("bad pattern: %v", err)
	}

	var include glob.Glob
	if pat := strArg(args, "include"); pat != "" {
		include, err = glob.Compile(pat)
		if err != nil {
			return Errorf("bad include glob: %v", err)
		}
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || matches >= grepMaxMatches {
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
		if include != nil && !include.Match(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		matches += grepFile(path, rel, re, &b, grepMaxMatches-matches)
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return Aborted()
	}

	if matches == 0 {
		return Ok("No matches")
	}
	if matches >= grepMaxMatches {
		b.WriteString("(matches truncated)\n")
	}
	return &Result{
		Output:   b.String(),
		Title:    strArg(args, "pattern"),
		Metadata: map[string]any{"matches": matches},
	}
}

func grepFile(path, rel string, re *regexp.Regexp, b *strings.Builder, budget int) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	// Skip binaries: NUL in the first block.
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return 0
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}

	found := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && found < budget {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			fmt.Fprintf(b, "%s:%d: %s\n", rel, lineNo, line)
			found++
		}
	}
	return found
}
