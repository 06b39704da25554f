// Package lookup resolves raw column values through an in-memory index.
//
// Indexes are plain maps built up front from a table file or a database
// query. Loader kinds register themselves at init time, the same way storage
// backends do; import tabsplit/internal/lookup/all to enable every kind.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tabsplit/internal/config"
)

// Index maps a raw value to its resolved value.
type Index interface {
	Lookup(key string) (string, bool)
}

// Map is the in-memory Index every loader produces.
type Map map[string]string

// Lookup implements Index.
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// IntKey returns the canonical decimal form of s parsed as a base-10
// integer, so that "007" and "7" resolve to the same entry.
func IntKey(s string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "", fmt.Errorf("int key %q: %w", s, err)
	}
	return strconv.FormatInt(n, 10), nil
}

// Factory builds a Map from kind-specific options.
type Factory func(ctx context.Context, opts config.Options) (Map, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind. It is typically
// called from loader packages' init functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered loader kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load builds the index described by ix.
func Load(ctx context.Context, ix config.Index) (Map, error) {
	mu.RLock()
	f, ok := factories[ix.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no lookup loader registered for index.kind=%q", ix.Kind)
	}
	m, err := f(ctx, ix.Options)
	if err != nil {
		return nil, fmt.Errorf("load %s index: %w", ix.Kind, err)
	}
	return m, nil
}

// Put stores value under key, canonicalizing the key first when intKey is
// set. Loaders share it so their keys agree with the field mapper's.
func (m Map) Put(key, value string, intKey bool) error {
	if intKey {
		k, err := IntKey(key)
		if err != nil {
			return err
		}
		key = k
	}
	m[key] = value
	return nil
}
