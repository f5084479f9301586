// Package router implements room-broadcast and direct-message routing on top
// of the connection registry: fan-out to every live handle under a channel
// key, with failed handles pruned as a side effect.
package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// Deliver fans a pre-encoded payload out to every live handle registered
// under key. Sends run concurrently and complete or fail independently; a
// handle whose send fails is unregistered and closed. Returns the number of
// handles the payload was attempted on. A key with no live handles is a
// silent no-op.
func Deliver(reg *registry.Registry, key fabric.ChannelKey, payload []byte, logger zerolog.Logger) int {
	handles := reg.Snapshot(key)
	if len(handles) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h fabric.Handle) {
			defer wg.Done()
			if err := h.Send(payload); err != nil {
				logger.Warn().Err(err).
					Str("channel", key.String()).
					Str("handle", h.ID()).
					Msg("Send failed, removing handle")
				reg.Unregister(key, h)
				_ = h.Close()
			}
		}(h)
	}
	wg.Wait()

	return len(handles)
}
