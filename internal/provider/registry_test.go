package provider

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/gocode/internal/config"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
)

type fakeProvider struct {
	id    string
	calls int
}

func (f *fakeProvider) ID() string                       { return f.id }
func (f *fakeProvider) DefaultModel() string             { return "fake-1" }
func (f *fakeProvider) ExcludesCachedInput() bool        { return true }
func (f *fakeProvider) Cost(string) tokens.Cost          { return tokens.Cost{} }
func (f *fakeProvider) Complete(context.Context, Request) (*Response, error) {
	f.calls++
	return &Response{Content: "ok", Finish: message.FinishStop}, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req Request, onDelta func(StreamChunk)) (*Response, error) {
	return f.Complete(ctx, req)
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(config.ProvidersConfig{})
	if _, err := r.Get("anthropic"); err == nil {
		t.Error("unconfigured provider should be absent")
	}

	fake := &fakeProvider{id: "fake"}
	r.Register(fake, 0)
	p, err := r.Get("fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := p.Complete(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d", fake.calls)
	}
}

func TestRateLimitedWrapperPreservesIdentity(t *testing.T) {
	r := NewRegistry(config.ProvidersConfig{})
	r.Register(&fakeProvider{id: "fake"}, 600)

	p, err := r.Get("fake")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID() != "fake" || p.DefaultModel() != "fake-1" {
		t.Errorf("wrapper changed identity: %s/%s", p.ID(), p.DefaultModel())
	}
	if _, err := p.Complete(context.Background(), Request{}); err != nil {
		t.Errorf("limited complete: %v", err)
	}
}

func TestLookupCostPrefix(t *testing.T) {
	got := lookupCost("claude-sonnet-4-5-20250929")
	if got.Input != 3 || got.Output != 15 {
		t.Errorf("sonnet cost = %+v", got)
	}
	if got.Over200K == nil || got.Over200K.Input != 6 {
		t.Errorf("sonnet over-200K tier = %+v", got.Over200K)
	}
	if c := lookupCost("totally-unknown"); c.Input != 0 || c.Output != 0 {
		t.Errorf("unknown model should cost zero, got %+v", c)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, mediaType, ok := decodeDataURL("data:image/png;base64,AAAA", "image/png")
	if !ok || data != "AAAA" || mediaType != "image/png" {
		t.Errorf("decode = %q %q %v", data, mediaType, ok)
	}
	if _, _, ok := decodeDataURL("https://example.com/a.png", "image/png"); ok {
		t.Error("plain URL must not decode")
	}
	if _, _, ok := decodeDataURL("data:text/plain;base64,AAAA", "text/plain"); ok {
		t.Error("non-image payload must not decode")
	}
}
