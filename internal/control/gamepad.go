package control

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"remotedesk/internal/protocol"
)

const (
	gamepadDeadzone    = 0.1
	gamepadStickScale  = 32767
	gamepadIdleTimeout = 3 * time.Second
	gamepadPollPeriod  = 16 * time.Millisecond
)

// GamepadSnapshot is the raw controller reading in platform units:
// axes and triggers in [-1, 1] and [0, 1], buttons already mapped to
// the wire bit layout.
type GamepadSnapshot struct {
	Axes     [4]float64 // left X, left Y, right X, right Y
	Triggers [2]float64 // left, right
	Buttons  protocol.GamepadButtons
}

// GamepadSource reads the currently active physical controller. ok is
// false when no controller is attached.
type GamepadSource interface {
	Poll() (snapshot GamepadSnapshot, ok bool)
}

// Gamepad forwards controller state to the host. Physical controllers
// are sampled on a fixed tick; a virtual on-screen pad submits state
// directly through SubmitState. Both paths share idle suppression so a
// resting controller stops generating traffic.
type Gamepad struct {
	source  GamepadSource
	channel ChannelProvider
	logger  *slog.Logger

	now func() time.Time

	mu            sync.Mutex
	enabled       bool
	hasPhysical   bool
	virtualActive bool
	lastActivity  time.Time
	idle          bool
	stop          chan struct{}
}

// NewGamepad creates a disabled gamepad adapter. The virtual pad is
// the default input until a physical controller appears.
func NewGamepad(source GamepadSource, channel ChannelProvider, logger *slog.Logger) *Gamepad {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gamepad{
		source:        source,
		channel:       channel,
		logger:        logger,
		now:           time.Now,
		virtualActive: true,
	}
}

// Enabled reports whether the adapter is forwarding.
func (g *Gamepad) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Toggle flips forwarding. Enabling announces a controller connect to
// the host and starts the physical poll loop; disabling announces a
// disconnect and stops it.
func (g *Gamepad) Toggle() bool {
	g.mu.Lock()
	g.enabled = !g.enabled
	enabled := g.enabled
	if enabled {
		g.lastActivity = g.now()
		g.idle = false
		g.stop = make(chan struct{})
		go g.pollLoop(g.stop)
	} else if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.mu.Unlock()

	protocol.Send(g.channel(), protocol.GamepadConnectEvent{Connected: enabled, ID: "gamepad"})
	return enabled
}

// HandlePlug records a physical controller arriving or leaving. The
// virtual pad yields to physical input while one is attached.
func (g *Gamepad) HandlePlug(connected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasPhysical = connected
	g.virtualActive = !connected
}

// SubmitState forwards one controller reading. The virtual pad calls
// this directly; the poll loop calls it for physical controllers.
// Readings identical to rest are suppressed after the idle timeout and
// resume on the first active reading.
func (g *Gamepad) SubmitState(snap GamepadSnapshot) {
	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		return
	}

	axes := normalizeAxes(snap)
	active := !axes.Zero() || snap.Buttons.Any()
	now := g.now()
	if active {
		g.lastActivity = now
		g.idle = false
	} else if g.idle {
		g.mu.Unlock()
		return
	} else if now.Sub(g.lastActivity) >= gamepadIdleTimeout {
		g.idle = true
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	protocol.Send(g.channel(), protocol.GamepadStateEvent{
		ID:      "gamepad",
		Buttons: snap.Buttons,
		Axes:    axes,
	})
}

// normalizeAxes converts platform-unit sticks and triggers to wire
// units: deadzoned sticks scaled to int16 range with Y inverted so up
// is positive, triggers scaled to a full byte.
func normalizeAxes(snap GamepadSnapshot) protocol.GamepadAxes {
	stick := func(v float64) int16 {
		if math.Abs(v) < gamepadDeadzone {
			return 0
		}
		return int16(clamp(v*gamepadStickScale, -gamepadStickScale, gamepadStickScale))
	}
	trigger := func(v float64) uint8 {
		return uint8(clamp(v*255, 0, 255))
	}
	return protocol.GamepadAxes{
		LeftStickX:   stick(snap.Axes[0]),
		LeftStickY:   stick(-snap.Axes[1]),
		RightStickX:  stick(snap.Axes[2]),
		RightStickY:  stick(-snap.Axes[3]),
		LeftTrigger:  trigger(snap.Triggers[0]),
		RightTrigger: trigger(snap.Triggers[1]),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pollLoop samples the physical controller while forwarding is on. The
// virtual pad bypasses this loop entirely via SubmitState.
func (g *Gamepad) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(gamepadPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		g.mu.Lock()
		skip := !g.enabled || g.virtualActive || g.source == nil
		g.mu.Unlock()
		if skip {
			continue
		}
		snap, ok := g.source.Poll()
		if !ok {
			continue
		}
		g.SubmitState(snap)
	}
}

// Cleanup stops forwarding, announces a disconnect if one was
// announced, and resets to defaults. Safe to call repeatedly.
func (g *Gamepad) Cleanup() {
	g.mu.Lock()
	wasEnabled := g.enabled
	g.enabled = false
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.hasPhysical = false
	g.virtualActive = true
	g.idle = false
	g.mu.Unlock()

	if wasEnabled {
		protocol.Send(g.channel(), protocol.GamepadConnectEvent{Connected: false, ID: "gamepad"})
	}
}
