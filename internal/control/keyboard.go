package control

import (
	"log/slog"
	"sync"

	"remotedesk/internal/protocol"
)

// KeyInput is one raw key transition from the platform.
type KeyInput struct {
	Down bool
	Code string
}

// KeySource is the platform keyboard hook. While attached the source
// delivers every key transition to the handler and suppresses the
// platform's default handling of it.
type KeySource interface {
	Attach(handler func(KeyInput)) error
	Detach()
}

// Keyboard forwards key transitions as KeyEvents while enabled.
type Keyboard struct {
	source  KeySource
	channel ChannelProvider
	logger  *slog.Logger

	// handler is created once so Detach always removes exactly the
	// function Attach registered.
	handler func(KeyInput)

	mu      sync.Mutex
	enabled bool
}

// NewKeyboard creates a disabled keyboard adapter.
func NewKeyboard(source KeySource, channel ChannelProvider, logger *slog.Logger) *Keyboard {
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keyboard{
		source:  source,
		channel: channel,
		logger:  logger,
	}
	k.handler = k.handleKey
	return k
}

// Enabled reports whether the adapter is capturing.
func (k *Keyboard) Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.enabled
}

// Toggle flips capture on or off, attaching or detaching the platform
// hook, and returns the new state.
func (k *Keyboard) Toggle() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.enabled {
		k.source.Detach()
		k.enabled = false
		return false
	}
	if err := k.source.Attach(k.handler); err != nil {
		k.logger.Warn("keyboard capture unavailable", "error", err)
		return false
	}
	k.enabled = true
	return true
}

// Cleanup disables capture and detaches the hook. Safe to call
// repeatedly.
func (k *Keyboard) Cleanup() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.enabled {
		k.source.Detach()
		k.enabled = false
	}
}

func (k *Keyboard) handleKey(in KeyInput) {
	k.mu.Lock()
	enabled := k.enabled
	k.mu.Unlock()
	if !enabled {
		return
	}
	protocol.Send(k.channel(), protocol.KeyEvent{Down: in.Down, Code: in.Code})
}
