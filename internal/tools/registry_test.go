package tools

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type stubTool struct {
	name     string
	parallel bool
	execute  func(ctx context.Context, call Call, args map[string]any) *Result
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Parallel() bool      { return s.parallel }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
		"required": []string{"value"},
	}
}
func (s *stubTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	if s.execute != nil {
		return s.execute(ctx, call, args)
	}
	return Ok("ok:" + strArg(args, "value"))
}

func TestRunValidatesArguments(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Register(&stubTool{name: "stub"}); err != nil {
		t.Fatal(err)
	}

	res := r.Run(context.Background(), Call{}, "stub", map[string]any{})
	if !res.IsError {
		t.Fatal("missing required arg must fail validation")
	}
	if !strings.Contains(res.Error, "value") {
		t.Errorf("error should name the missing property: %q", res.Error)
	}

	res = r.Run(context.Background(), Call{}, "stub", map[string]any{"value": 42})
	if !res.IsError {
		t.Error("wrong arg type must fail validation")
	}

	res = r.Run(context.Background(), Call{}, "stub", map[string]any{"value": "hi"})
	if res.IsError || res.Output != "ok:hi" {
		t.Errorf("valid call result = %+v", res)
	}
}

func TestRunUnknownTool(t *testing.T) {
	r := NewRegistry(0)
	res := r.Run(context.Background(), Call{}, "missing", nil)
	if !res.IsError || !strings.Contains(res.Error, "missing") {
		t.Errorf("result = %+v", res)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	r := NewRegistry(0)
	err := r.Register(&stubTool{name: "boom", execute: func(context.Context, Call, map[string]any) *Result {
		panic("kaboom")
	}})
	if err != nil {
		t.Fatal(err)
	}
	res := r.Run(context.Background(), Call{}, "boom", map[string]any{"value": "x"})
	if !res.IsError || !strings.Contains(res.Error, "kaboom") {
		t.Errorf("result = %+v", res)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	r := NewRegistry(50)
	err := r.Register(&stubTool{name: "big", execute: func(context.Context, Call, map[string]any) *Result {
		return &Result{
			Output:   strings.Repeat("a", 200),
			Metadata: map[string]any{"output": strings.Repeat("b", 200)},
		}
	}})
	if err != nil {
		t.Fatal(err)
	}

	res := r.Run(context.Background(), Call{}, "big", map[string]any{"value": "x"})
	if len(res.Output) > 50+len("\n[output truncated]") {
		t.Errorf("output not truncated: %d chars", len(res.Output))
	}
	if !strings.HasSuffix(res.Output, "[output truncated]") {
		t.Errorf("missing truncation marker: %q", res.Output[len(res.Output)-30:])
	}
	if meta := res.Metadata["output"].(string); !strings.HasSuffix(meta, "[output truncated]") {
		t.Error("metadata output not truncated")
	}
}

func TestDefsRespectsEnabledMap(t *testing.T) {
	r := NewRegistry(0)
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})

	defs := r.Defs(map[string]bool{"a": false})
	if len(defs) != 1 || defs[0].Name != "b" {
		t.Errorf("defs = %+v", defs)
	}
	if got := r.Defs(nil); len(got) != 2 {
		t.Errorf("nil map should include all tools, got %d", len(got))
	}
}

func TestRunBatchSequentialOrder(t *testing.T) {
	r := NewRegistry(0)
	var order []string
	mk := func(name string) *stubTool {
		return &stubTool{name: name, execute: func(context.Context, Call, map[string]any) *Result {
			order = append(order, name)
			return Ok(name)
		}}
	}
	r.Register(mk("first"))
	r.Register(mk("second"))

	var started []int
	results := r.RunBatch(context.Background(), []Invocation{
		{Name: "first", Args: map[string]any{"value": "1"}},
		{Name: "second", Args: map[string]any{"value": "2"}},
	}, func(i int) { started = append(started, i) })

	if len(results) != 2 || results[0].Output != "first" || results[1].Output != "second" {
		t.Errorf("results = %+v", results)
	}
	if len(order) != 2 || order[0] != "first" {
		t.Errorf("execution order = %v", order)
	}
	if len(started) != 2 || started[0] != 0 || started[1] != 1 {
		t.Errorf("start order = %v", started)
	}
}

func TestRunBatchParallelWhenAllSafe(t *testing.T) {
	r := NewRegistry(0)
	var inFlight, peak atomic.Int32
	mk := func(name string) *stubTool {
		return &stubTool{name: name, parallel: true, execute: func(context.Context, Call, map[string]any) *Result {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return Ok(name)
		}}
	}
	r.Register(mk("pa"))
	r.Register(mk("pb"))

	results := r.RunBatch(context.Background(), []Invocation{
		{Name: "pa", Args: map[string]any{"value": "1"}},
		{Name: "pb", Args: map[string]any{"value": "2"}},
	}, nil)

	if results[0].Output != "pa" || results[1].Output != "pb" {
		t.Errorf("results out of order: %+v", results)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want >= 2", peak.Load())
	}
}

func TestRunBatchSequentialWhenAnyUnsafe(t *testing.T) {
	r := NewRegistry(0)
	var inFlight, peak atomic.Int32
	exec := func(name string) func(context.Context, Call, map[string]any) *Result {
		return func(context.Context, Call, map[string]any) *Result {
			n := inFlight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return Ok(name)
		}
	}
	r.Register(&stubTool{name: "safe", parallel: true, execute: exec("safe")})
	r.Register(&stubTool{name: "unsafe", parallel: false, execute: exec("unsafe")})

	r.RunBatch(context.Background(), []Invocation{
		{Name: "safe", Args: map[string]any{"value": "1"}},
		{Name: "unsafe", Args: map[string]any{"value": "2"}},
	}, nil)

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1 (sequential)", peak.Load())
	}
}

func TestRunCancelledContext(t *testing.T) {
	r := NewRegistry(0)
	r.Register(&stubTool{name: "stub"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Run(ctx, Call{}, "stub", map[string]any{"value": "x"})
	if !res.IsError || res.Error != "User aborted" {
		t.Errorf("result = %+v", res)
	}
}
