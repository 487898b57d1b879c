// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStorage wraps MemoryStorage and fails selected operations.
type failingStorage struct {
	*MemoryStorage
	upsertErr error
	deleteErr error
	listErr   error
}

func (s *failingStorage) Upsert(ctx context.Context, e *Entry) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.MemoryStorage.Upsert(ctx, e)
}

func (s *failingStorage) Delete(ctx context.Context, rid, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStorage.Delete(ctx, rid, key)
}

func (s *failingStorage) List(ctx context.Context) ([]*Entry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryStorage.List(ctx)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func (p *recordingPublisher) Publish(_ context.Context, c Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

// gatedStorage blocks the write of one particular source after it has
// reached the store, until release is closed.
type gatedStorage struct {
	*MemoryStorage
	gateOn  string
	reached chan struct{}
	release chan struct{}
}

func newGatedStorage(gateOn string) *gatedStorage {
	return &gatedStorage{
		MemoryStorage: NewMemoryStorage(),
		gateOn:        gateOn,
		reached:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *gatedStorage) Upsert(ctx context.Context, e *Entry) error {
	if err := s.MemoryStorage.Upsert(ctx, e); err != nil {
		return err
	}
	if e.HandlerSource == s.gateOn {
		close(s.reached)
		<-s.release
	}
	return nil
}

func TestRegistry_UpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStorage())

	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok)

	entry, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)
	assert.False(t, entry.CreatedAt.IsZero())

	got, ok := reg.Lookup("wf-1", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, "-- v1", got.HandlerSource)
}

func TestRegistry_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	reg := New(storage)

	first, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)
	second, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v2")
	require.NoError(t, err)

	stored, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "-- v2", stored[0].HandlerSource)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	got, _ := reg.Lookup("wf-1", "abcd1234")
	assert.Equal(t, "-- v2", got.HandlerSource)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_UpsertValidation(t *testing.T) {
	reg := New(NewMemoryStorage())

	tests := []struct {
		name, rid, key, src string
	}{
		{"empty resource", "", "k", "src"},
		{"empty key", "wf", "", "src"},
		{"slash in resource", "a/b", "k", "src"},
		{"slash in key", "wf", "k/1", "src"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Upsert(context.Background(), tt.rid, tt.key, tt.src)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_UpsertAcceptsEmptySource(t *testing.T) {
	reg := New(NewMemoryStorage())

	_, err := reg.Upsert(context.Background(), "wf-1", "abcd1234", "")
	require.NoError(t, err)

	e, ok := reg.Lookup("wf-1", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, "", e.HandlerSource)
}

func TestRegistry_OverlappingUpsertsSameKeyLastWriteWins(t *testing.T) {
	ctx := context.Background()
	storage := newGatedStorage("-- A")
	reg := New(storage)

	firstDone := make(chan error, 1)
	go func() {
		_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- A")
		firstDone <- err
	}()
	<-storage.reached

	secondDone := make(chan error, 1)
	go func() {
		_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- B")
		secondDone <- err
	}()

	select {
	case <-secondDone:
		t.Fatal("second write finished while the first was still between store and cache")
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	stored, err := storage.Get(ctx, "wf-1", "abcd1234")
	require.NoError(t, err)
	cached, ok := reg.Lookup("wf-1", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, "-- B", stored.HandlerSource)
	assert.Equal(t, stored.HandlerSource, cached.HandlerSource)
}

func TestRegistry_OverlappingUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	storage := newGatedStorage("-- v2")
	reg := New(storage)
	_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)

	upsertDone := make(chan error, 1)
	go func() {
		_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v2")
		upsertDone <- err
	}()
	<-storage.reached

	removeDone := make(chan error, 1)
	go func() { removeDone <- reg.Remove(ctx, "wf-1", "abcd1234") }()

	close(storage.release)
	require.NoError(t, <-upsertDone)
	require.NoError(t, <-removeDone)

	_, err = storage.Get(ctx, "wf-1", "abcd1234")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok, "cache and store agree after the remove")
}

func TestRegistry_UpsertStoreFailureLeavesCache(t *testing.T) {
	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), upsertErr: errors.New("connection reset")}
	reg := New(storage)

	_, err := reg.Upsert(context.Background(), "wf-1", "abcd1234", "-- v1")
	require.Error(t, err)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "upsert", storeErr.Op)

	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStorage())

	_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "wf-1", "abcd1234"))
	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok, "lookup after removal is a miss")

	assert.ErrorIs(t, reg.Remove(ctx, "wf-1", "abcd1234"), ErrNotFound)
	assert.ErrorIs(t, reg.Remove(ctx, "never", "registered"), ErrNotFound)
}

func TestRegistry_RemoveStoreFailure(t *testing.T) {
	ctx := context.Background()
	storage := &failingStorage{MemoryStorage: NewMemoryStorage()}
	reg := New(storage)
	_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)

	storage.deleteErr = errors.New("timeout")
	err = reg.Remove(ctx, "wf-1", "abcd1234")

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.True(t, ok, "failed delete keeps the cache entry")
}

func TestRegistry_RemoveStaleCacheEntry(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	reg := New(storage)
	_, err := reg.Upsert(ctx, "wf-1", "abcd1234", "-- v1")
	require.NoError(t, err)

	require.NoError(t, storage.Delete(ctx, "wf-1", "abcd1234"))

	assert.ErrorIs(t, reg.Remove(ctx, "wf-1", "abcd1234"), ErrNotFound)
	_, ok := reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok)
}

func TestRegistry_LoadAll(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	for i := 0; i < 3; i++ {
		require.NoError(t, storage.Upsert(ctx, &Entry{ResourceID: fmt.Sprintf("wf-%d", i), APIKey: "k", HandlerSource: "src"}))
	}

	reg := New(storage)
	reg.entries[Key{ResourceID: "stale", APIKey: "k"}] = Entry{ResourceID: "stale"}

	require.NoError(t, reg.LoadAll(ctx))
	assert.Equal(t, 3, reg.Len())
	_, ok := reg.Lookup("stale", "k")
	assert.False(t, ok, "LoadAll replaces the cache wholesale")
}

func TestRegistry_LoadAllFailureIsNonFatal(t *testing.T) {
	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), listErr: errors.New("db down")}
	reg := New(storage)

	err := reg.LoadAll(context.Background())
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, 0, reg.Len())

	_, ok := reg.Lookup("wf-1", "k")
	assert.False(t, ok)
}

func TestRegistry_ListSorted(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStorage())
	for _, k := range []Key{{"b", "2"}, {"a", "9"}, {"b", "1"}} {
		_, err := reg.Upsert(ctx, k.ResourceID, k.APIKey, "src")
		require.NoError(t, err)
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, Key{"a", "9"}, list[0].Key())
	assert.Equal(t, Key{"b", "1"}, list[1].Key())
	assert.Equal(t, Key{"b", "2"}, list[2].Key())
}

func TestRegistry_ConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStorage())

	const keys = 20
	const writes = 25

	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			rid := fmt.Sprintf("wf-%d", k)
			for w := 0; w < writes; w++ {
				_, err := reg.Upsert(ctx, rid, "key", fmt.Sprintf("%s:%d", rid, w))
				assert.NoError(t, err)
				reg.Lookup(rid, "key")
			}
		}(k)
	}
	wg.Wait()

	for k := 0; k < keys; k++ {
		rid := fmt.Sprintf("wf-%d", k)
		e, ok := reg.Lookup(rid, "key")
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("%s:%d", rid, writes-1), e.HandlerSource)
	}
}

func TestRegistry_PublishesChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	reg := New(NewMemoryStorage())
	reg.SetPublisher(pub)

	_, err := reg.Upsert(ctx, "wf-1", "k", "src")
	require.NoError(t, err)
	require.NoError(t, reg.Remove(ctx, "wf-1", "k"))
	_ = reg.Remove(ctx, "wf-1", "k")

	require.Len(t, pub.changes, 2)
	assert.Equal(t, OpUpsert, pub.changes[0].Op)
	assert.Equal(t, OpDelete, pub.changes[1].Op)
}

func TestRegistry_ApplyChange(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	reg := New(storage)

	require.NoError(t, storage.Upsert(ctx, &Entry{ResourceID: "wf-1", APIKey: "k", HandlerSource: "remote"}))
	require.NoError(t, reg.ApplyChange(ctx, Change{Op: OpUpsert, ResourceID: "wf-1", APIKey: "k"}))
	e, ok := reg.Lookup("wf-1", "k")
	require.True(t, ok)
	assert.Equal(t, "remote", e.HandlerSource)

	require.NoError(t, reg.ApplyChange(ctx, Change{Op: OpDelete, ResourceID: "wf-1", APIKey: "k"}))
	_, ok = reg.Lookup("wf-1", "k")
	assert.False(t, ok)

	require.NoError(t, reg.ApplyChange(ctx, Change{Op: OpUpsert, ResourceID: "gone", APIKey: "k"}))
	_, ok = reg.Lookup("gone", "k")
	assert.False(t, ok)
}

func TestStoreError(t *testing.T) {
	cause := errors.New("boom")
	err := &StoreError{Op: "list", Err: cause}
	assert.Equal(t, "registry store list: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}
