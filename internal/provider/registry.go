package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/gocode/internal/config"
	"github.com/nextlevelbuilder/gocode/internal/message"
)

// Registry holds the configured providers, each behind an optional
// request-rate limiter.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry from config. Providers without an API key
// are left unregistered.
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	if cfg.Anthropic.APIKey != "" {
		r.Register(
			NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL,
				WithAnthropicModel(cfg.Anthropic.Model)),
			cfg.Anthropic.RateLimitRPM)
	}
	if cfg.OpenAI.APIKey != "" {
		r.Register(NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model),
			cfg.OpenAI.RateLimitRPM)
	}
	return r
}

// Register adds a provider. A positive rpm wraps it in a rate limiter.
func (r *Registry) Register(p Provider, rpm int) {
	if rpm > 0 {
		p = &limited{
			Provider: p,
			limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/10)),
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, message.NewNotFound("provider", providerID)
	}
	return p, nil
}

// IDs lists the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}

// limited throttles calls through a token-bucket limiter.
type limited struct {
	Provider
	limiter *rate.Limiter
}

func (l *limited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, message.ClassifyProviderError(l.ID(), 0, err)
	}
	return l.Provider.Complete(ctx, req)
}

func (l *limited) Stream(ctx context.Context, req Request, onDelta func(StreamChunk)) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, message.ClassifyProviderError(l.ID(), 0, err)
	}
	return l.Provider.Stream(ctx, req, onDelta)
}
