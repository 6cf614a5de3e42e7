// Package chatcache implements the persistent chat-metadata cache, grounded
// on tg/chat_cache/__init__.py. Keys are normalized chat identifiers; values
// hold the resolved entity plus an optional member count. The original
// serializes with cloudpickle; this port uses JSON (see SPEC_FULL.md §9) so
// the blob is portable and does not depend on any particular RPC client's
// wire types, storing just the rpcclient.EntityKind/ID pair rather than the
// richer Python Entity object.
package chatcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/rpcclient"
	"github.com/leshchenko/tgpool/internal/tgtext"
)

// Item is the cached record for one chat: its resolved entity and, once
// known, its member count.
type Item struct {
	EntityKind   rpcclient.EntityKind `json:"entity_kind"`
	EntityID     int64                `json:"entity_id"`
	MembersCount *int                 `json:"members_count,omitempty"`
}

type entity struct {
	kind rpcclient.EntityKind
	id   int64
}

func (e entity) Kind() rpcclient.EntityKind { return e.kind }
func (e entity) ID() int64                  { return e.id }

// Entity reconstructs the rpcclient.Entity carried by this Item.
func (i Item) Entity() rpcclient.Entity {
	return entity{kind: i.EntityKind, id: i.EntityID}
}

// ItemFromEntity builds an Item wrapping e, with no member count yet known.
func ItemFromEntity(e rpcclient.Entity) *Item {
	return &Item{EntityKind: e.Kind(), EntityID: e.ID()}
}

// Cache is the normalized chat-id -> Item mapping, persisted as a single
// JSON blob. It is not safe for concurrent Scanner checkouts against
// different keys without external synchronization beyond what Get/Set
// already provide internally.
type Cache struct {
	mu    sync.RWMutex
	store blobstore.Store
	items map[string]*Item
}

// New returns an empty Cache backed by store. Call Load to populate it from
// a prior session.
func New(store blobstore.Store) *Cache {
	return &Cache{store: store, items: make(map[string]*Item)}
}

// Get returns the cached Item for chatID (normalized via tgtext.EnsureAtSingle)
// and whether it was present.
func (c *Cache) Get(chatID string) (*Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[tgtext.EnsureAtSingle(chatID)]
	return item, ok
}

// Set stores item under chatID (normalized).
func (c *Cache) Set(chatID string, item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tgtext.EnsureAtSingle(chatID)] = item
}

// Contains reports whether chatID (normalized) has a cached entry.
func (c *Cache) Contains(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[tgtext.EnsureAtSingle(chatID)]
	return ok
}

// Load replaces the in-memory cache with the contents of the
// blobstore.ChatCacheKey blob, re-normalizing every key (so a cache written
// before a normalization-rule change still loads cleanly). A missing blob
// is not an error: Load leaves the cache empty.
func (c *Cache) Load(ctx context.Context) error {
	exists, err := c.store.Exists(ctx, blobstore.ChatCacheKey)
	if err != nil {
		return fmt.Errorf("chatcache: checking cache blob: %w", err)
	}
	if !exists {
		c.mu.Lock()
		c.items = make(map[string]*Item)
		c.mu.Unlock()
		return nil
	}

	raw, err := blobstore.ReadAll(ctx, c.store, blobstore.ChatCacheKey)
	if err != nil {
		return fmt.Errorf("chatcache: reading cache blob: %w", err)
	}

	var loaded map[string]*Item
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return fmt.Errorf("chatcache: decoding cache blob: %w", err)
	}

	normalized := make(map[string]*Item, len(loaded))
	for k, v := range loaded {
		normalized[tgtext.EnsureAtSingle(k)] = v
	}

	c.mu.Lock()
	c.items = normalized
	c.mu.Unlock()
	return nil
}

// Save serializes the whole cache back to the blobstore.ChatCacheKey blob.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.RLock()
	data, err := json.Marshal(c.items)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("chatcache: encoding cache blob: %w", err)
	}
	if err := blobstore.WriteAll(ctx, c.store, blobstore.ChatCacheKey, data); err != nil {
		return fmt.Errorf("chatcache: writing cache blob: %w", err)
	}
	return nil
}
