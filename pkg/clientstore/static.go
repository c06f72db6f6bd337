package clientstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticStore holds a fixed set of configs loaded once at startup. Lookup
// walks the full set comparing keys in constant time — the set is small
// enough (typically dozens to low hundreds of clients) that this is O(1) in
// practice without an index that could itself leak size information.
type StaticStore struct {
	configs []ClientConfig
}

// LoadStatic reads a client configuration document from path. JSON is used
// unless the path ends in .yml or .yaml, matching CLIENT_STORE_BACKEND=json
// default with a YAML escape hatch (spec.md §6).
func LoadStatic(path string) (*StaticStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("clientstore: read %s: %w", path, err)
	}

	var configs []ClientConfig
	if strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") {
		if err := yaml.Unmarshal(data, &configs); err != nil {
			return nil, fmt.Errorf("clientstore: parse %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &configs); err != nil {
			return nil, fmt.Errorf("clientstore: parse %s: %w", path, err)
		}
	}
	return NewStatic(configs), nil
}

// NewStatic builds a StaticStore from an already-loaded config set.
func NewStatic(configs []ClientConfig) *StaticStore {
	return &StaticStore{configs: configs}
}

// Lookup implements Store.
func (s *StaticStore) Lookup(ctx context.Context, apiKey string) (ClientConfig, error) {
	var found ClientConfig
	ok := false
	// Walk every entry regardless of an early match so the function's
	// running time does not depend on the matching key's position.
	for _, c := range s.configs {
		if constantTimeEqual(c.APIKey, apiKey) {
			found = c
			ok = true
		}
	}
	if !ok {
		return ClientConfig{}, ErrNotFound
	}
	return found, nil
}

// LegacyStore wraps a flat list of API keys (no per-client policy). Every
// recognized key maps to the same synthetic default config.
type LegacyStore struct {
	keys       []string
	defaultCfg ClientConfig
}

// NewLegacy builds a LegacyStore from a list of keys (the caller splits
// GATEWAY_API_KEYS on commas) and the synthetic default config applied to
// all of them.
func NewLegacy(keys []string, defaultCfg ClientConfig) *LegacyStore {
	return &LegacyStore{keys: keys, defaultCfg: defaultCfg}
}

// Lookup implements Store.
func (s *LegacyStore) Lookup(ctx context.Context, apiKey string) (ClientConfig, error) {
	ok := false
	for _, k := range s.keys {
		if constantTimeEqual(k, apiKey) {
			ok = true
		}
	}
	if !ok {
		return ClientConfig{}, ErrNotFound
	}
	cfg := s.defaultCfg
	cfg.APIKey = apiKey
	if cfg.ClientID == "" {
		cfg.ClientID = "legacy:" + apiKey
	}
	return cfg, nil
}
