// Package fabric contains the public domain models, wire payloads, and
// collaborator interfaces for the chat fabric. It defines the contract for
// interacting with the realtime core.
package fabric

import (
	"fmt"
	"strconv"
)

// ChannelKind discriminates the two addressing schemes the registry supports.
type ChannelKind int

const (
	// KindRoom addresses every connection joined to a chat room.
	KindRoom ChannelKind = iota
	// KindUser addresses every connection a single user holds open.
	// Used for both direct-message and notification delivery.
	KindUser
)

// String returns the kind's wire/log representation.
func (k ChannelKind) String() string {
	switch k {
	case KindRoom:
		return "room"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// ChannelKey is the addressing unit for the connection registry: either a
// room identifier or a user identifier. Keys are derived per connection at
// handshake time and never persisted.
type ChannelKey struct {
	Kind ChannelKind
	ID   string
}

// RoomKey builds the channel key for a numeric room identifier.
func RoomKey(roomID int64) ChannelKey {
	return ChannelKey{Kind: KindRoom, ID: strconv.FormatInt(roomID, 10)}
}

// UserKey builds the channel key for a user identifier.
func UserKey(userID string) ChannelKey {
	return ChannelKey{Kind: KindUser, ID: userID}
}

// String renders the key for logging and shard selection, e.g. "room:42".
func (k ChannelKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// Handle is an open, send-capable reference to one connected client's
// transport. A handle is bound to exactly one underlying socket and is owned
// by the registry once registered.
type Handle interface {
	// ID returns the handle's unique identity.
	ID() string

	// Send writes a single text frame to the peer. Sends are bounded by the
	// transport's write timeout and are safe for concurrent use.
	Send(payload []byte) error

	// Close sends a normal-closure frame (best effort) and tears down the
	// underlying socket. Close is idempotent.
	Close() error

	// IsClosed reports whether the underlying transport is observably closed.
	IsClosed() bool
}
