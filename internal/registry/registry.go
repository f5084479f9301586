// Package registry implements the in-memory ownership map from a channel key
// to the set of currently open connection handles. It is the single piece of
// state shared across sessions and is safe for arbitrary concurrent use.
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

const numShards = 16

const presenceTimeout = 5 * time.Second

// Option configures optional registry behaviour.
type Option func(*Registry)

// WithPresenceCache mirrors user-channel occupancy into the given cache:
// first handle registered sets presence, last handle removed deletes it.
func WithPresenceCache(cache fabric.PresenceCache) Option {
	return func(r *Registry) {
		r.presence = cache
	}
}

// Registry tracks live handles per channel key. Locking is sharded by key so
// unrelated rooms and users do not serialize against each other.
type Registry struct {
	shards   [numShards]shard
	presence fabric.PresenceCache
	logger   zerolog.Logger
}

type shard struct {
	mu       sync.RWMutex
	channels map[string]map[string]fabric.Handle // key string -> handle ID -> handle
}

// New creates an empty registry.
func New(logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.With().Str("component", "Registry").Logger(),
	}
	for i := range r.shards {
		r.shards[i].channels = make(map[string]map[string]fabric.Handle)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.shards[h.Sum32()%numShards]
}

// Register adds a handle under the given channel key. Registering the same
// handle twice under the same key is a no-op.
func (r *Registry) Register(key fabric.ChannelKey, handle fabric.Handle) {
	ks := key.String()
	s := r.shardFor(ks)

	s.mu.Lock()
	set, ok := s.channels[ks]
	if !ok {
		set = make(map[string]fabric.Handle)
		s.channels[ks] = set
	}
	first := len(set) == 0
	set[handle.ID()] = handle
	s.mu.Unlock()

	r.logger.Debug().Str("channel", ks).Str("handle", handle.ID()).Msg("Handle registered")

	if first && key.Kind == fabric.KindUser {
		r.setPresence(key.ID)
	}
}

// Unregister removes a handle. When the key's handle set becomes empty, the
// key entry itself is dropped so the map does not leak keys.
func (r *Registry) Unregister(key fabric.ChannelKey, handle fabric.Handle) {
	ks := key.String()
	s := r.shardFor(ks)

	s.mu.Lock()
	set, ok := s.channels[ks]
	if ok {
		delete(set, handle.ID())
		if len(set) == 0 {
			delete(s.channels, ks)
		}
	}
	last := ok && len(set) == 0
	s.mu.Unlock()

	if !ok {
		return
	}
	r.logger.Debug().Str("channel", ks).Str("handle", handle.ID()).Msg("Handle unregistered")

	if last && key.Kind == fabric.KindUser {
		r.deletePresence(key.ID)
	}
}

// Snapshot returns the current live handles for a key. Handles whose
// transport is observably closed are pruned from the registry before the
// snapshot is returned. Callers use the snapshot immediately for fan-out and
// never cache it.
func (r *Registry) Snapshot(key fabric.ChannelKey) []fabric.Handle {
	ks := key.String()
	s := r.shardFor(ks)

	s.mu.Lock()
	set, ok := s.channels[ks]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	live := make([]fabric.Handle, 0, len(set))
	for id, h := range set {
		if h.IsClosed() {
			delete(set, id)
			continue
		}
		live = append(live, h)
	}
	var last bool
	if len(set) == 0 {
		delete(s.channels, ks)
		last = true
	}
	s.mu.Unlock()

	if last && key.Kind == fabric.KindUser {
		r.deletePresence(key.ID)
	}
	return live
}

// NumChannels reports how many channel keys currently hold at least one
// handle. Used by tests and introspection only.
func (r *Registry) NumChannels() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		total += len(s.channels)
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) setPresence(userID string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Set(ctx, userID); err != nil {
		r.logger.Error().Err(err).Str("user", userID).Msg("Failed to set user presence in cache.")
	}
}

func (r *Registry) deletePresence(userID string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Delete(ctx, userID); err != nil {
		r.logger.Error().Err(err).Str("user", userID).Msg("Failed to delete user presence from cache.")
	}
}
