// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Change operations.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Change is the message published after a registry mutation. It carries
// only the key; receivers re-read the entry from storage.
type Change struct {
	Op         string `json:"op"`
	ResourceID string `json:"resource_id"`
	APIKey     string `json:"api_key"`
	Origin     string `json:"origin,omitempty"`
}

// Notifier propagates registry changes between replicas over Redis pub/sub.
// Delivery is best effort and unordered; the last write to storage wins.
type Notifier struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *log.Logger
}

// NewNotifier connects to Redis (format: redis://host:port or redis://host:port/db).
func NewNotifier(ctx context.Context, redisURL, channel string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewNotifierWithClient(client, channel), nil
}

// NewNotifierWithClient wraps an existing Redis client.
func NewNotifierWithClient(client *redis.Client, channel string) *Notifier {
	return &Notifier{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  log.New(os.Stdout, "[REGISTRY_NOTIFIER] ", log.LstdFlags),
	}
}

// Publish sends a change tagged with this notifier's origin.
func (n *Notifier) Publish(ctx context.Context, change Change) error {
	change.Origin = n.origin
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Subscribe applies changes published by other replicas to r until ctx is
// cancelled. It returns once the subscription is confirmed; messages are
// handled on a background goroutine.
func (n *Notifier) Subscribe(ctx context.Context, r *Registry) error {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.handle(ctx, r, msg.Payload)
			}
		}
	}()

	n.logger.Printf("Subscribed to registry changes on %s", n.channel)
	return nil
}

func (n *Notifier) handle(ctx context.Context, r *Registry, payload string) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		n.logger.Printf("Ignoring malformed change message: %v", err)
		return
	}
	if change.Origin == n.origin {
		return
	}
	if change.Op != OpUpsert && change.Op != OpDelete {
		n.logger.Printf("Ignoring change with unknown op %q", change.Op)
		return
	}
	if err := r.ApplyChange(ctx, change); err != nil {
		n.logger.Printf("Failed to apply %s for %s: %v", change.Op, change.ResourceID, err)
	}
}

// Close closes the Redis client.
func (n *Notifier) Close() error {
	return n.client.Close()
}
