package protocol

import "log/slog"

// Channel is the adapters' view of the session data channel: readiness
// plus a binary write. The session owns the underlying handle; adapters
// must re-fetch it for every send because reconnection may replace it
// between any two calls.
type Channel interface {
	// Ready reports whether the channel is open for sending.
	Ready() bool
	// Send writes one encoded event as a single channel message.
	Send(data []byte) error
}

// Send encodes e and writes it to ch. A nil or not-ready channel is a
// recoverable condition, not an error: Send logs a warning and returns
// false, and the next input event retries implicitly.
func Send(ch Channel, e Event) bool {
	if ch == nil || !ch.Ready() {
		slog.Warn("event channel not ready, dropping event")
		return false
	}
	if err := ch.Send(e.Encode()); err != nil {
		slog.Warn("event channel send failed", "error", err)
		return false
	}
	return true
}
