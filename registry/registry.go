// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

// Publisher announces registry mutations to other replicas.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Registry maps (resource_id, api_key) to handler source.
// Lookups only read the in-memory cache; mutations go to storage first.
// Thread-safe for concurrent access.
//
// writeMu is held across a store write and the cache update that follows
// it, so the cache always ends on the same write as the store. mu guards
// the map itself and is the only lock Lookup takes.
type Registry struct {
	entries   map[Key]Entry
	storage   Storage
	publisher Publisher
	writeMu   sync.Mutex
	mu        sync.RWMutex
	logger    *log.Logger
}

// New creates a registry backed by storage. The cache starts empty until
// LoadAll is called.
func New(storage Storage) *Registry {
	return &Registry{
		entries: make(map[Key]Entry),
		storage: storage,
		logger:  log.New(os.Stdout, "[MCP_REGISTRY] ", log.LstdFlags),
	}
}

// SetPublisher enables change notifications after successful mutations.
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// Upsert persists the entry and then makes it visible to Lookup. A second
// call with the same key overwrites the source. On a store failure the
// cache is left unchanged.
func (r *Registry) Upsert(ctx context.Context, resourceID, apiKey, source string) (*Entry, error) {
	entry := &Entry{ResourceID: resourceID, APIKey: apiKey, HandlerSource: source}
	if err := entry.Validate(); err != nil {
		registryMutations.WithLabelValues("upsert", "invalid").Inc()
		return nil, err
	}

	r.writeMu.Lock()
	if err := r.storage.Upsert(ctx, entry); err != nil {
		r.writeMu.Unlock()
		registryMutations.WithLabelValues("upsert", "error").Inc()
		return nil, asStoreError("upsert", err)
	}

	r.mu.Lock()
	r.entries[entry.Key()] = *entry
	size := len(r.entries)
	publisher := r.publisher
	r.mu.Unlock()
	r.writeMu.Unlock()

	registryEntries.Set(float64(size))
	registryMutations.WithLabelValues("upsert", "ok").Inc()
	r.logger.Printf("Registered %s for api key %s", resourceID, logger.Mask(apiKey, 8))

	r.publish(ctx, publisher, Change{Op: OpUpsert, ResourceID: resourceID, APIKey: apiKey})
	out := *entry
	return &out, nil
}

// Remove deletes the entry from storage and cache. It returns ErrNotFound
// when the key is not registered.
func (r *Registry) Remove(ctx context.Context, resourceID, apiKey string) error {
	key := Key{ResourceID: resourceID, APIKey: apiKey}

	r.writeMu.Lock()
	r.mu.RLock()
	_, exists := r.entries[key]
	r.mu.RUnlock()
	if !exists {
		r.writeMu.Unlock()
		registryMutations.WithLabelValues("remove", "not_found").Inc()
		return ErrNotFound
	}

	err := r.storage.Delete(ctx, resourceID, apiKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.writeMu.Unlock()
		registryMutations.WithLabelValues("remove", "error").Inc()
		return asStoreError("delete", err)
	}

	// A store miss means another replica already deleted it; the cached
	// copy is stale either way.
	r.mu.Lock()
	delete(r.entries, key)
	size := len(r.entries)
	publisher := r.publisher
	r.mu.Unlock()
	r.writeMu.Unlock()
	registryEntries.Set(float64(size))

	if err != nil {
		registryMutations.WithLabelValues("remove", "not_found").Inc()
		return ErrNotFound
	}

	registryMutations.WithLabelValues("remove", "ok").Inc()
	r.logger.Printf("Removed %s for api key %s", resourceID, logger.Mask(apiKey, 8))
	r.publish(ctx, publisher, Change{Op: OpDelete, ResourceID: resourceID, APIKey: apiKey})
	return nil
}

// LoadAll replaces the cache with the store contents. On failure the cache
// is left empty and the error is returned for the caller to log; it is not
// meant to stop startup.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	entries, err := r.storage.List(ctx)
	if err != nil {
		r.mu.Lock()
		r.entries = make(map[Key]Entry)
		r.mu.Unlock()
		registryEntries.Set(0)
		r.logger.Printf("Warning: failed to load registry from storage: %v", err)
		return asStoreError("list", err)
	}

	loaded := make(map[Key]Entry, len(entries))
	for _, e := range entries {
		loaded[e.Key()] = *e
	}

	r.mu.Lock()
	r.entries = loaded
	r.mu.Unlock()

	registryEntries.Set(float64(len(loaded)))
	r.logger.Printf("Loaded %d registry entries from storage", len(loaded))
	return nil
}

// Lookup reads the cache only. A miss is authoritative.
func (r *Registry) Lookup(resourceID, apiKey string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Key{ResourceID: resourceID, APIKey: apiKey}]
	return e, ok
}

// List returns a snapshot of all cached entries ordered by resource id and key.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].APIKey < out[j].APIKey
	})
	return out
}

// Len returns the number of cached entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ApplyChange brings one key in line with the store after another replica
// changed it.
func (r *Registry) ApplyChange(ctx context.Context, change Change) error {
	key := Key{ResourceID: change.ResourceID, APIKey: change.APIKey}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if change.Op == OpDelete {
		r.evict(key)
		return nil
	}

	entry, err := r.storage.Get(ctx, change.ResourceID, change.APIKey)
	if errors.Is(err, ErrNotFound) {
		r.evict(key)
		return nil
	}
	if err != nil {
		return asStoreError("get", err)
	}

	r.mu.Lock()
	r.entries[key] = *entry
	size := len(r.entries)
	r.mu.Unlock()
	registryEntries.Set(float64(size))
	return nil
}

// Close releases the storage.
func (r *Registry) Close() error {
	return r.storage.Close()
}

func (r *Registry) evict(key Key) {
	r.mu.Lock()
	delete(r.entries, key)
	size := len(r.entries)
	r.mu.Unlock()
	registryEntries.Set(float64(size))
}

func (r *Registry) publish(ctx context.Context, p Publisher, change Change) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, change); err != nil {
		r.logger.Printf("Warning: failed to publish %s for %s: %v", change.Op, change.ResourceID, err)
	}
}

func asStoreError(op string, err error) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
