package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/provider"
)

// DefaultMaxOutput caps tool output persisted and fed back to the model.
const DefaultMaxOutput = 30_000

// batchWorkers bounds concurrent parallel-safe tool executions per step.
const batchWorkers = 4

// Registry holds tools, validates arguments against their schemas and
// dispatches calls.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	order     []string
	schemas   map[string]*jsonschema.Schema
	maxOutput int
}

// NewRegistry creates an empty registry. maxOutput <= 0 selects the
// default truncation cap.
func NewRegistry(maxOutput int) *Registry {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Registry{
		tools:     make(map[string]Tool),
		schemas:   make(map[string]*jsonschema.Schema),
		maxOutput: maxOutput,
	}
}

// Register adds a tool, compiling its parameter schema. Registering two
// tools under one name is a programming error and fails.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.schemas[name] = schema
	r.order = append(r.order, name)
	return nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Unregister removes a tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Defs projects tools into provider tool definitions. enabled narrows the
// set: a tool explicitly mapped to false is excluded, everything else is
// included.
func (r *Registry) Defs(enabled map[string]bool) []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		if flag, ok := enabled[name]; ok && !flag {
			continue
		}
		t := r.tools[name]
		out = append(out, provider.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Validate checks args against the tool's parameter schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return message.NewNotFound("tool", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(normalize(args)); err != nil {
		return message.NewArgument(fmt.Sprintf("tool %s: %v", name, err))
	}
	return nil
}

// normalize round-trips args through JSON so the validator sees the same
// value shapes a decoded request would have.
func normalize(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

// Run validates and executes a single tool call. Failures are folded into
// an error result; Run never panics.
func (r *Registry) Run(ctx context.Context, call Call, name string, args map[string]any) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panic", "tool", name, "panic", rec)
			res = Errorf("tool %s panicked: %v", name, rec)
		}
		if res != nil {
			r.truncateResult(res)
		}
	}()

	tool, ok := r.Get(name)
	if !ok {
		return Errorf("unknown tool %q", name)
	}
	if err := r.Validate(name, args); err != nil {
		return &Result{Output: err.Error(), Error: err.Error(), IsError: true}
	}
	if err := ctx.Err(); err != nil {
		return Aborted()
	}

	res = tool.Execute(ctx, call, args)
	if res == nil {
		res = Errorf("tool %s returned no result", name)
	}
	if errors.Is(ctx.Err(), context.Canceled) && !res.IsError {
		res = Aborted()
	}
	return res
}

func (r *Registry) truncateResult(res *Result) {
	res.Output = truncate(res.Output, r.maxOutput)
	if out, ok := res.Metadata["output"].(string); ok {
		res.Metadata["output"] = truncate(out, r.maxOutput)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[output truncated]"
}

// Invocation is one entry in a step's tool-call batch.
type Invocation struct {
	Call Call
	Name string
	Args map[string]any
}

// RunBatch executes a step's tool calls. Calls run sequentially in order
// unless every named tool is parallel-safe, in which case they run
// concurrently under a small worker budget. onStart fires before each
// call begins, in call order; results are returned in call order.
func (r *Registry) RunBatch(ctx context.Context, invs []Invocation, onStart func(i int)) []*Result {
	results := make([]*Result, len(invs))
	if len(invs) == 0 {
		return results
	}

	if !r.allParallel(invs) {
		for i, inv := range invs {
			if onStart != nil {
				onStart(i)
			}
			results[i] = r.Run(ctx, inv.Call, inv.Name, inv.Args)
		}
		return results
	}

	g := new(errgroup.Group)
	g.SetLimit(batchWorkers)
	for i, inv := range invs {
		if onStart != nil {
			onStart(i)
		}
		g.Go(func() error {
			results[i] = r.Run(ctx, inv.Call, inv.Name, inv.Args)
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Registry) allParallel(invs []Invocation) bool {
	if len(invs) < 2 {
		return false
	}
	for _, inv := range invs {
		t, ok := r.Get(inv.Name)
		if !ok || !t.Parallel() {
			return false
		}
	}
	return true
}
