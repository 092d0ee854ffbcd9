package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
)

// ErrUnknownNamespace is returned for a namespace the service does not define.
var ErrUnknownNamespace = errors.New("unknown cache namespace")

// NoEntriesMessage is the value of the "info" sentinel returned by ListEntries for an
// empty namespace.
const NoEntriesMessage = "No entries found in cache."

// CacheInspector reads and evicts cache entries directly, bypassing WeatherService.
// It reports whatever the cache holds, which may be stale relative to the record store,
// and exposes stored data verbatim; route it behind operator-only access.
// Cache errors are returned rather than masked, since the cache is what is being inspected.
type CacheInspector struct {
	cache cache.Store
}

// NewCacheInspector creates a CacheInspector over cacheStore.
func NewCacheInspector(cacheStore cache.Store) *CacheInspector {
	return &CacheInspector{cache: cacheStore}
}

// ListNamespaces returns every namespace the service defines.
func (i *CacheInspector) ListNamespaces() []string {
	return cache.Namespaces()
}

// ListEntries returns every entry in namespace keyed by its backend key (namespace::name).
// When the namespace holds nothing the result is {"info": NoEntriesMessage}, never an
// empty map, so "nothing cached" reads differently from ErrUnknownNamespace.
func (i *CacheInspector) ListEntries(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	if !cache.IsKnownNamespace(namespace) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	entries, err := i.cache.Entries(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", namespace, err)
	}
	if len(entries) == 0 {
		return map[string]json.RawMessage{"info": rawJSON(NoEntriesMessage)}, nil
	}
	out := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		out[k.String()] = asJSON(v)
	}
	return out, nil
}

// GetEntry returns the cached value for name in namespace; found is false if absent.
func (i *CacheInspector) GetEntry(ctx context.Context, namespace, name string) (json.RawMessage, bool, error) {
	if !cache.IsKnownNamespace(namespace) {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	raw, ok, err := i.cache.Get(ctx, cache.Key{Namespace: namespace, Name: name})
	if err != nil {
		return nil, false, fmt.Errorf("get %s entry: %w", namespace, err)
	}
	if !ok {
		return nil, false, nil
	}
	return asJSON(raw), true, nil
}

// EvictNamespace deletes every entry in namespace.
func (i *CacheInspector) EvictNamespace(ctx context.Context, namespace string) error {
	if !cache.IsKnownNamespace(namespace) {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	if err := i.cache.Clear(ctx, namespace); err != nil {
		return fmt.Errorf("evict %s: %w", namespace, err)
	}
	return nil
}

// asJSON passes valid JSON through and wraps anything else (e.g. a value written by
// another client) as a JSON string so responses always encode.
func asJSON(v []byte) json.RawMessage {
	if json.Valid(v) {
		return json.RawMessage(v)
	}
	return rawJSON(string(v))
}

func rawJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
