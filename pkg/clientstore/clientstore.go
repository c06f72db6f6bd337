// Package clientstore resolves an API key to a ClientConfig. Three
// interchangeable backends are provided: a static in-memory set loaded from
// a configuration document, a legacy flat key list with a synthetic default
// config, and a remote key-indexed external store.
package clientstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// Provider tags the upstream an API key's requests are routed to.
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderBedrock Provider = "bedrock"
)

// ClientConfig is identity and policy for one API consumer. Configs are
// treated as immutable within a request's lifetime.
type ClientConfig struct {
	ClientID           string   `json:"client_id" yaml:"client_id"`
	APIKey             string   `json:"api_key" yaml:"api_key"`
	RateLimitRPM       int      `json:"rate_limit_rpm,omitempty" yaml:"rate_limit_rpm,omitempty"`
	AllowedModels      []string `json:"allowed_models,omitempty" yaml:"allowed_models,omitempty"`
	Provider           Provider `json:"provider,omitempty" yaml:"provider,omitempty"`
	UpstreamCredential string   `json:"upstream_credential,omitempty" yaml:"upstream_credential,omitempty"`
}

// AllowsModel reports whether model is permitted for this client. An empty
// allowlist is permissive (any model allowed).
func (c ClientConfig) AllowsModel(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// resolvedRPM returns the client's rate limit if set, else the supplied
// global default. Resolution is explicit here rather than scattered across
// call sites, per the "global default vs. per-client override" design note.
func (c ClientConfig) resolvedRPM(globalDefault int) int {
	if c.RateLimitRPM > 0 {
		return c.RateLimitRPM
	}
	return globalDefault
}

// ErrNotFound is returned by Lookup when no config matches the given key.
var ErrNotFound = errors.New("clientstore: api key not found")

// Store resolves API keys to client configs.
type Store interface {
	// Lookup returns the config for apiKey, or ErrNotFound if no client
	// owns that key. Implementations must compare keys in constant time
	// to avoid leaking key validity via timing side-channels.
	Lookup(ctx context.Context, apiKey string) (ClientConfig, error)
}

// DefaultRPM configures the fallback rate limit used when a client config
// does not specify one.
type DefaultRPM int

// WithDefaultRPM wraps a Store so every returned config has RateLimitRPM
// resolved against a global default, per "global default vs. per-client
// override" (spec design notes §9).
func WithDefaultRPM(s Store, globalDefault int) Store {
	return &defaultingStore{inner: s, globalDefault: globalDefault}
}

type defaultingStore struct {
	inner         Store
	globalDefault int
}

func (d *defaultingStore) Lookup(ctx context.Context, apiKey string) (ClientConfig, error) {
	cfg, err := d.inner.Lookup(ctx, apiKey)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.RateLimitRPM = cfg.resolvedRPM(d.globalDefault)
	return cfg, nil
}

// constantTimeEqual compares two strings in time independent of where they
// first differ. Keys are hashed to a fixed-size digest first so the
// comparison's cost does not vary with input length either — defends
// against timing side-channels on the key-compare path (spec.md §4.1, §8.1).
func constantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}
