// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps entries in process memory. Used when no database is
// configured and in tests.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[Key]Entry
	now     func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[Key]Entry),
		now:     time.Now,
	}
}

func (s *MemoryStorage) Upsert(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := *entry
	stored.UpdatedAt = now
	if existing, ok := s.entries[entry.Key()]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.entries[entry.Key()] = stored

	entry.CreatedAt = stored.CreatedAt
	entry.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, resourceID, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{ResourceID: resourceID, APIKey: apiKey}
	if _, ok := s.entries[key]; !ok {
		return ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, resourceID, apiKey string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[Key{ResourceID: resourceID, APIKey: apiKey}]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStorage) List(_ context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (s *MemoryStorage) Close() error { return nil }
