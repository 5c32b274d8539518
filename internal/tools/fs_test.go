package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func allowAll(context.Context, string, string, map[string]any) (bool, error) {
	return true, nil
}

func denyAll(context.Context, string, string, map[string]any) (bool, error) {
	return false, nil
}

func TestReadTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta\ngamma"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewRead().Execute(context.Background(), Call{Dir: dir, Ask: allowAll},
		map[string]any{"filePath": "hello.txt"})
	if res.IsError {
		t.Fatalf("read failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "    2| beta") {
		t.Errorf("output = %q", res.Output)
	}
	if res.Title != "hello.txt" {
		t.Errorf("title = %q", res.Title)
	}
}

func TestReadToolOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "n.txt")
	if err := os.WriteFile(path, []byte("1\n2\n3\n4\n5"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewRead().Execute(context.Background(), Call{Dir: dir, Ask: allowAll},
		map[string]any{"filePath": "n.txt", "offset": float64(2), "limit": float64(2)})
	if res.IsError {
		t.Fatalf("read failed: %s", res.Error)
	}
	if strings.Contains(res.Output, "    1| ") || !strings.Contains(res.Output, "    3| 3") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "2 more lines") {
		t.Errorf("missing remainder marker: %q", res.Output)
	}
}

func TestReadToolDenied(t *testing.T) {
	res := NewRead().Execute(context.Background(), Call{Dir: t.TempDir(), Ask: denyAll},
		map[string]any{"filePath": "x.txt"})
	if !res.IsError || !strings.Contains(res.Error, "denied") {
		t.Errorf("result = %+v", res)
	}
}

func TestWriteThenEdit(t *testing.T) {
	dir := t.TempDir()
	call := Call{Dir: dir, Ask: allowAll}
	ctx := context.Background()

	res := NewWrite().Execute(ctx, call, map[string]any{
		"filePath": "sub/file.txt",
		"content":  "hello old world",
	})
	if res.IsError {
		t.Fatalf("write failed: %s", res.Error)
	}

	res = NewEdit().Execute(ctx, call, map[string]any{
		"filePath":  "sub/file.txt",
		"oldString": "old",
		"newString": "new",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.Error)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sub", "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello new world" {
		t.Errorf("content = %q", data)
	}
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("aa aa"), 0o644); err != nil {
		t.Fatal(err)
	}
	call := Call{Dir: dir, Ask: allowAll}

	res := NewEdit().Execute(context.Background(), call, map[string]any{
		"filePath": "f.txt", "oldString": "aa", "newString": "bb",
	})
	if !res.IsError || !strings.Contains(res.Error, "2 times") {
		t.Errorf("ambiguous edit should fail: %+v", res)
	}

	res = NewEdit().Execute(context.Background(), call, map[string]any{
		"filePath": "f.txt", "oldString": "aa", "newString": "bb", "replaceAll": true,
	})
	if res.IsError {
		t.Fatalf("replaceAll failed: %s", res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "bb bb" {
		t.Errorf("content = %q", data)
	}
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.txt", filepath.Join("pkg", "d.go")} {
		path := filepath.Join(dir, name)
		os.MkdirAll(filepath.Dir(path), 0o755)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res := NewGlob().Execute(context.Background(), Call{Dir: dir, Ask: allowAll},
		map[string]any{"pattern": "**.go"})
	if res.IsError {
		t.Fatalf("glob failed: %s", res.Error)
	}
	for _, want := range []string{"a.go", "b.go", filepath.Join("pkg", "d.go")} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %s: %q", want, res.Output)
		}
	}
	if strings.Contains(res.Output, "c.txt") {
		t.Errorf("output should not contain c.txt: %q", res.Output)
	}
}

func TestGrepTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc Hello() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("func Hello in text\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewGrep().Execute(context.Background(), Call{Dir: dir, Ask: allowAll},
		map[string]any{"pattern": `func \w+`, "include": "*.go"})
	if res.IsError {
		t.Fatalf("grep failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "a.go:2") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "b.txt") {
		t.Errorf("include filter ignored: %q", res.Output)
	}
}
