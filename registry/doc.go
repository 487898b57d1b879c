// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

/*
Package registry maps (resource_id, api_key) pairs to handler source.

# Overview

The Registry is a cache in front of a durable Storage:

  - Upsert writes the store first and only then updates the cache
  - Remove returns ErrNotFound for keys that are not registered
  - LoadAll replaces the cache from the store once at startup
  - Lookup never touches the store; a cache miss is final

# Creating a Registry

For persistent storage (production):

	storage, err := registry.NewPostgreSQLStorage(ctx, databaseURL)
	if err != nil {
	    return err
	}
	if err := storage.EnsureSchema(ctx); err != nil {
	    log.Printf("schema: %v", err)
	}
	reg := registry.New(storage)
	if err := reg.LoadAll(ctx); err != nil {
	    log.Printf("starting with an empty registry: %v", err)
	}

For in-memory storage (development and tests):

	reg := registry.New(registry.NewMemoryStorage())

# Replicas

When several routers share one database, a Notifier keeps their caches in
step. Each mutation publishes the key on a Redis channel; every other
replica re-reads that key from the store:

	n, err := registry.NewNotifier(ctx, redisURL, "n8n2mcp:registry")
	if err == nil {
	    reg.SetPublisher(n)
	    _ = n.Subscribe(ctx, reg)
	}

# Thread Safety

All Registry methods are safe for concurrent use. Concurrent writes to the
same key are last-write-wins.
*/
package registry
