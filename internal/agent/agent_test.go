package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/config"
	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/provider"
	"github.com/nextlevelbuilder/gocode/internal/session"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
	"github.com/nextlevelbuilder/gocode/internal/tools"
)

// scriptStep is one scripted model response (or failure).
type scriptStep struct {
	resp *provider.Response
	err  error
}

// fakeProvider pops scripted responses and records every request it saw.
// A non-nil gate blocks each call until the gate closes or ctx ends.
type fakeProvider struct {
	mu    sync.Mutex
	queue []scriptStep
	calls []provider.Request
	gate  chan struct{}
}

func (f *fakeProvider) ID() string                { return "fake" }
func (f *fakeProvider) DefaultModel() string      { return "fake-model" }
func (f *fakeProvider) ExcludesCachedInput() bool { return true }
func (f *fakeProvider) Cost(string) tokens.Cost {
	return tokens.Cost{Input: 3, Output: 15}
}

func (f *fakeProvider) push(steps ...scriptStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, steps...)
}

func (f *fakeProvider) requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.calls...)
}

func (f *fakeProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	return f.Stream(ctx, req, nil)
}

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request, onDelta func(provider.StreamChunk)) (*provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return &provider.Response{Finish: message.FinishStop, ModelID: "fake-model"}, nil
	}
	step := f.queue[0]
	f.queue = f.queue[1:]
	if step.err != nil {
		return nil, step.err
	}
	if onDelta != nil && step.resp.Content != "" {
		onDelta(provider.StreamChunk{Text: step.resp.Content})
	}
	if step.resp.ModelID == "" {
		step.resp.ModelID = "fake-model"
	}
	return step.resp, nil
}

// echoTool is a trivial parallel-safe tool for loop tests.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo the value back" }
func (echoTool) Parallel() bool      { return true }
func (echoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
		"required": []string{"value"},
	}
}
func (echoTool) Execute(ctx context.Context, call tools.Call, args map[string]any) *tools.Result {
	v, _ := args["value"].(string)
	return tools.Ok("echo:" + v)
}

type harness struct {
	runner   *Runner
	store    *session.Store
	bus      *bus.Bus
	provider *fakeProvider
	tools    *tools.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	store, err := session.NewStore(database, b, session.Options{ProjectID: "proj_test"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	fake := &fakeProvider{}
	registry := provider.NewRegistry(config.ProvidersConfig{})
	registry.Register(fake, 0)

	toolReg := tools.NewRegistry(0)
	if err := toolReg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(store, b, toolReg, registry, nil, config.AgentConfig{
		Default:  "build",
		MaxSteps: 4,
		Provider: "fake",
		Model:    "fake-model",
	}, t.TempDir())

	return &harness{runner: runner, store: store, bus: b, provider: fake, tools: toolReg}
}

func (h *harness) newSession(t *testing.T) *session.Info {
	t.Helper()
	sess, err := h.store.Create(context.Background(), session.CreateOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

// waitBusy polls until the runner claims the session.
func waitBusy(t *testing.T, r *Runner, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Busy(sessionID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("runner never claimed the session")
}
