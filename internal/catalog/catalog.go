// Package catalog lists the models a provider offers, caching per credential
// and falling back to a static table so a model can always be chosen.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client"
	"github.com/fpt/chatdesk/pkg/logger"
)

// Source tells where a listing came from
type Source int

const (
	SourceLive Source = iota
	SourceCache
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceCache:
		return "cache"
	default:
		return "fallback"
	}
}

// Listing is the result of ListModels. Models is never empty for a known provider.
type Listing struct {
	Models []domain.ModelDescriptor
	Source Source
	// Err is why the live listing failed when Source is SourceFallback
	Err error
}

// Factory creates a provider client for a credential
type Factory func(ctx context.Context, provider domain.ProviderID, credential string) (domain.Provider, error)

// FactoryFromOptions adapts client.NewProvider, filling in the shared settings.
// base.BaseURL only applies to base.Provider.
func FactoryFromOptions(base client.Options) Factory {
	return func(ctx context.Context, provider domain.ProviderID, credential string) (domain.Provider, error) {
		opts := base
		if provider != base.Provider {
			opts.BaseURL = ""
		}
		opts.Provider = provider
		opts.Credential = credential
		return client.NewProvider(ctx, opts)
	}
}

type cacheKey struct {
	provider    domain.ProviderID
	fingerprint string
}

// Catalog is safe for concurrent use
type Catalog struct {
	mu      sync.Mutex
	factory Factory
	cache   map[cacheKey][]domain.ModelDescriptor
	logger  *logger.Logger
}

func New(factory Factory, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.NewComponentLogger("catalog")
	}
	return &Catalog{factory: factory, cache: make(map[cacheKey][]domain.ModelDescriptor), logger: log}
}

// Fingerprint identifies a credential without revealing it
func Fingerprint(credential string) string {
	if credential == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:4])
}

// ListModels returns the provider's models. A failed listing is logged and
// answered with the static table; failures are not cached.
func (c *Catalog) ListModels(ctx context.Context, provider domain.ProviderID, credential string) Listing {
	key := cacheKey{provider: provider, fingerprint: Fingerprint(credential)}

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return Listing{Models: clone(cached), Source: SourceCache}
	}
	c.mu.Unlock()

	models, err := c.fetch(ctx, provider, credential)
	if err != nil || len(models) == 0 {
		c.logger.WarnWithIntention(logger.IntentionCatalog, "Model listing failed, using built-in list",
			"provider", provider, "credential", key.fingerprint, "error", err)
		return Listing{Models: client.BuiltinModels(provider), Source: SourceFallback, Err: err}
	}

	c.mu.Lock()
	// a new credential replaces whatever was cached for the provider
	for k := range c.cache {
		if k.provider == provider {
			delete(c.cache, k)
		}
	}
	c.cache[key] = models
	c.mu.Unlock()

	c.logger.DebugWithIntention(logger.IntentionCatalog, "Listed models", "provider", provider, "count", len(models))
	return Listing{Models: clone(models), Source: SourceLive}
}

func (c *Catalog) fetch(ctx context.Context, provider domain.ProviderID, credential string) ([]domain.ModelDescriptor, error) {
	p, err := c.factory(ctx, provider, credential)
	if err != nil {
		return nil, err
	}
	return p.ListModels(ctx)
}

// Refresh drops the cached listing for provider so the next call goes live.
func (c *Catalog) Refresh(provider domain.ProviderID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if k.provider == provider {
			delete(c.cache, k)
		}
	}
}

// Probe sends a minimal request for modelID and returns the classified failure, if any.
func (c *Catalog) Probe(ctx context.Context, provider domain.ProviderID, credential, modelID string) error {
	p, err := c.factory(ctx, provider, credential)
	if err != nil {
		return err
	}
	return p.Probe(ctx, modelID)
}

// ProbeAvailability reports whether modelID answers a minimal request.
// Providers without a usable listing rely on this before a model is offered.
func (c *Catalog) ProbeAvailability(ctx context.Context, provider domain.ProviderID, credential, modelID string) bool {
	err := c.Probe(ctx, provider, credential, modelID)
	if err != nil {
		c.logger.DebugWithIntention(logger.IntentionCatalog, "Model probe failed", "provider", provider, "model", modelID, "error", err)
	}
	return err == nil
}

// Contains reports whether id appears in models. Unknown ids remain dispatchable.
func Contains(models []domain.ModelDescriptor, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func clone(in []domain.ModelDescriptor) []domain.ModelDescriptor {
	return append([]domain.ModelDescriptor(nil), in...)
}
