package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// fakeHandle is a minimal in-memory fabric.Handle.
type fakeHandle struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func newFakeHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fabric.ErrHandleClosed
	}
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type mockPresenceCache struct {
	mock.Mock
}

func (m *mockPresenceCache) Set(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockPresenceCache) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockPresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := New(zerolog.Nop())
	key := fabric.RoomKey(42)
	h := newFakeHandle("h1")

	reg.Register(key, h)
	reg.Register(key, h)

	snapshot := reg.Snapshot(key)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "h1", snapshot[0].ID())
}

func TestRegistry_UnregisterDropsEmptyKey(t *testing.T) {
	reg := New(zerolog.Nop())
	key := fabric.RoomKey(42)
	h1 := newFakeHandle("h1")
	h2 := newFakeHandle("h2")

	reg.Register(key, h1)
	reg.Register(key, h2)
	require.Equal(t, 1, reg.NumChannels())

	reg.Unregister(key, h1)
	assert.Equal(t, 1, reg.NumChannels(), "key must survive while a handle remains")
	assert.Len(t, reg.Snapshot(key), 1)

	reg.Unregister(key, h2)
	assert.Equal(t, 0, reg.NumChannels(), "empty key must not be leaked")
	assert.Empty(t, reg.Snapshot(key))
}

func TestRegistry_UnregisterUnknownKeyIsNoop(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.Unregister(fabric.RoomKey(99), newFakeHandle("h1"))
	assert.Equal(t, 0, reg.NumChannels())
}

func TestRegistry_SnapshotPrunesClosedHandles(t *testing.T) {
	reg := New(zerolog.Nop())
	key := fabric.RoomKey(42)
	open := newFakeHandle("open")
	closed := newFakeHandle("closed")

	reg.Register(key, open)
	reg.Register(key, closed)
	require.NoError(t, closed.Close())

	snapshot := reg.Snapshot(key)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "open", snapshot[0].ID())

	// The closed handle is gone for good, not just filtered from one snapshot.
	snapshot = reg.Snapshot(key)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "open", snapshot[0].ID())
}

func TestRegistry_SnapshotDropsKeyWhenAllClosed(t *testing.T) {
	reg := New(zerolog.Nop())
	key := fabric.RoomKey(7)
	h := newFakeHandle("h1")

	reg.Register(key, h)
	require.NoError(t, h.Close())

	assert.Empty(t, reg.Snapshot(key))
	assert.Equal(t, 0, reg.NumChannels())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fabric.RoomKey(int64(n % 5))
			h := newFakeHandle(fmt.Sprintf("h-%d", n))
			reg.Register(key, h)
			reg.Snapshot(key)
			reg.Unregister(key, h)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.NumChannels())
}

func TestRegistry_PresenceMirroring(t *testing.T) {
	presence := new(mockPresenceCache)
	reg := New(zerolog.Nop(), WithPresenceCache(presence))

	key := fabric.UserKey("user-7")
	h1 := newFakeHandle("h1")
	h2 := newFakeHandle("h2")

	// Only the first register sets presence, only the last unregister clears it.
	presence.On("Set", mock.Anything, "user-7").Return(nil).Once()
	presence.On("Delete", mock.Anything, "user-7").Return(nil).Once()

	reg.Register(key, h1)
	reg.Register(key, h2)
	reg.Unregister(key, h1)
	reg.Unregister(key, h2)

	presence.AssertExpectations(t)
}

func TestRegistry_RoomKeysDoNotTouchPresence(t *testing.T) {
	presence := new(mockPresenceCache)
	reg := New(zerolog.Nop(), WithPresenceCache(presence))

	key := fabric.RoomKey(42)
	h := newFakeHandle("h1")
	reg.Register(key, h)
	reg.Unregister(key, h)

	presence.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
	presence.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
