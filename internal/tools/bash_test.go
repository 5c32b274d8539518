package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBashTool(t *testing.T) {
	res := NewBash(0).Execute(context.Background(), Call{Dir: t.TempDir(), Ask: allowAll},
		map[string]any{"command": "echo hello && echo err >&2"})
	if res.IsError {
		t.Fatalf("bash failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "err") {
		t.Errorf("combined output = %q", res.Output)
	}
	if res.Metadata["exit"] != 0 {
		t.Errorf("exit = %v", res.Metadata["exit"])
	}
}

func TestBashToolNonZeroExit(t *testing.T) {
	res := NewBash(0).Execute(context.Background(), Call{Ask: allowAll},
		map[string]any{"command": "exit 3"})
	if !res.IsError {
		t.Fatal("non-zero exit should be an error result")
	}
	if res.Metadata["exit"] != 3 {
		t.Errorf("exit = %v", res.Metadata["exit"])
	}
}

func TestBashToolTimeoutKillsTree(t *testing.T) {
	start := time.Now()
	res := NewBash(0).Execute(context.Background(), Call{Ask: allowAll},
		map[string]any{"command": "sleep 30", "timeout": float64(100)})
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not fire")
	}
	if !res.IsError || res.Metadata["cancelled"] != "timeout" {
		t.Errorf("result = %+v", res)
	}
}

func TestBashToolUserAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := NewBash(0).Execute(ctx, Call{Ask: allowAll},
		map[string]any{"command": "sleep 30"})
	if time.Since(start) > 5*time.Second {
		t.Fatal("abort did not interrupt the command")
	}
	if !res.IsError || res.Error != "User aborted" {
		t.Errorf("result = %+v", res)
	}
	if res.Metadata["cancelled"] != "user" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestBashToolDenied(t *testing.T) {
	res := NewBash(0).Execute(context.Background(), Call{Ask: denyAll},
		map[string]any{"command": "echo hi"})
	if !res.IsError || !strings.Contains(res.Error, "denied") {
		t.Errorf("result = %+v", res)
	}
}
