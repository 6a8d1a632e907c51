// Package content provides catalog implementations that resolve content
// references to display metadata and pricing.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	basepay "github.com/crypto-plugins/basepay"
)

// StaticCatalog is an in-memory catalog populated at startup. Lookups are
// safe for concurrent use; mutation is expected to happen before serving.
type StaticCatalog struct {
	mu    sync.RWMutex
	items map[uint64]basepay.ContentMeta
}

// NewStaticCatalog creates an empty catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{items: make(map[uint64]basepay.ContentMeta)}
}

// LoadFile reads a JSON array of content entries into a new catalog.
func LoadFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var entries []basepay.ContentMeta
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	c := NewStaticCatalog()
	for _, e := range entries {
		if e.Ref == 0 {
			return nil, fmt.Errorf("catalog file %s: entry %q has no ref", path, e.Title)
		}
		c.Add(e)
	}
	return c, nil
}

// Add registers or replaces an entry.
func (c *StaticCatalog) Add(meta basepay.ContentMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[meta.Ref] = meta
}

// Lookup resolves a content reference, or returns ErrUnknownContent.
func (c *StaticCatalog) Lookup(_ context.Context, ref uint64) (basepay.ContentMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, ok := c.items[ref]
	if !ok {
		return basepay.ContentMeta{}, basepay.ErrUnknownContent
	}
	return meta, nil
}

// Len reports how many entries the catalog holds.
func (c *StaticCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Ensure StaticCatalog implements basepay.ContentCatalog
var _ basepay.ContentCatalog = (*StaticCatalog)(nil)
