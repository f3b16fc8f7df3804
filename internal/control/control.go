// Package control contains the input capture adapters. Each adapter
// normalizes one input source (keyboard, pointer/touch, gamepad) into
// protocol events and pushes them onto the session's data channel.
//
// Adapters never own the channel: they receive a ChannelProvider and ask
// it for the current handle on every send, because reconnection may
// replace the channel between any two input events. A nil or not-ready
// channel drops the event; the next event retries implicitly.
package control

import "remotedesk/internal/protocol"

// ChannelProvider returns the current event channel, or nil while the
// session has none.
type ChannelProvider func() protocol.Channel
