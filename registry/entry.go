// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a (resource_id, api_key) pair is not registered.
	ErrNotFound = errors.New("registry entry not found")

	// ErrInvalidEntry is returned for entries that could never be routed to.
	ErrInvalidEntry = errors.New("invalid registry entry")
)

// Key is the composite registry key.
type Key struct {
	ResourceID string
	APIKey     string
}

// Entry is a registered handler definition. HandlerSource is opaque until
// an instance is built from it.
type Entry struct {
	ResourceID    string    `json:"resource_id"`
	APIKey        string    `json:"api_key"`
	HandlerSource string    `json:"handler_source"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the entry's composite key.
func (e *Entry) Key() Key {
	return Key{ResourceID: e.ResourceID, APIKey: e.APIKey}
}

// Validate checks that both key segments are usable as single path
// segments. Any source is accepted, including an empty one, which builds
// an instance with no tools.
func (e *Entry) Validate() error {
	switch {
	case e.ResourceID == "" || e.APIKey == "":
		return fmt.Errorf("%w: resource_id and api_key are required", ErrInvalidEntry)
	case strings.Contains(e.ResourceID, "/") || strings.Contains(e.APIKey, "/"):
		return fmt.Errorf("%w: resource_id and api_key must not contain '/'", ErrInvalidEntry)
	}
	return nil
}

// StoreError wraps a durable-store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "registry store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Storage is the durable side of the registry.
type Storage interface {
	// Upsert inserts or overwrites the entry and sets its timestamps.
	Upsert(ctx context.Context, entry *Entry) error
	// Delete returns ErrNotFound when no row matched.
	Delete(ctx context.Context, resourceID, apiKey string) error
	Get(ctx context.Context, resourceID, apiKey string) (*Entry, error)
	List(ctx context.Context) ([]*Entry, error)
	Close() error
}
