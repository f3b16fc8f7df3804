package control

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"remotedesk/internal/protocol"
)

// Gesture thresholds and sensitivities. These are part of the adapter's
// observable contract with hosts and must not drift.
const (
	tapThreshold  = 300 * time.Millisecond // max duration of a tap
	moveThreshold = 10.0                   // px of movement that turns a tap into a drag
	clickUpDelay  = 50 * time.Millisecond  // gap between the synthesized down and up
	wheelDivisor  = 32.0                   // wheel delta px per scroll step
	scrollDivisor = 10.0                   // two-finger-drag px per scroll step
)

// SurfaceMetrics describes the rendered target surface at one instant:
// its bounding box in client space and the native content resolution
// behind it.
type SurfaceMetrics struct {
	Left, Top             float64
	ViewWidth, ViewHeight float64
	ContentWidth          float64
	ContentHeight         float64
}

// PointerSurface is the surface the mouse adapter maps coordinates
// against, plus the platform pointer-lock controls.
type PointerSurface interface {
	Metrics() SurfaceMetrics
	RequestPointerLock() error
	ExitPointerLock()
}

// VirtualKeyboard summons and dismisses the platform on-screen
// keyboard (three-finger-tap target).
type VirtualKeyboard interface {
	Show()
	Hide()
}

// TouchPoint is one touch contact in client space.
type TouchPoint struct {
	X, Y float64
}

// Mouse translates pointer and touch input into absolute or relative
// mouse events. The UI layer feeds it semantic calls (OnMouseMove,
// OnTouchStart, ...); the adapter applies coordinate mapping, pointer
// lock, and tap/gesture disambiguation.
type Mouse struct {
	surface  PointerSurface
	keyboard VirtualKeyboard
	channel  ChannelProvider
	logger   *slog.Logger

	now      func() time.Time
	schedule func(time.Duration, func())

	mu            sync.Mutex
	enabled       bool
	trackMovement bool
	pointerLocked bool

	// Touch gesture scratch state.
	lastTouchX, lastTouchY float64
	touchStart             time.Time
	touchCount             int
	moved                  bool
	twoFinger              bool
	lastTwoFingerY         float64

	keyboardVisible bool
}

// NewMouse creates a disabled mouse adapter.
func NewMouse(surface PointerSurface, keyboard VirtualKeyboard, channel ChannelProvider, logger *slog.Logger) *Mouse {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mouse{
		surface:  surface,
		keyboard: keyboard,
		channel:  channel,
		logger:   logger,
		now:      time.Now,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Enabled reports whether the adapter is capturing.
func (m *Mouse) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Toggle flips capture on or off. Movement tracking follows the capture
// state so enabling the mouse immediately tracks hover movement.
func (m *Mouse) Toggle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = !m.enabled
	m.trackMovement = !m.trackMovement
	return m.enabled
}

// ToggleTracking flips hover-movement tracking independently.
func (m *Mouse) ToggleTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackMovement = !m.trackMovement
	return m.trackMovement
}

// ToggleLock enters or exits pointer lock. A failed lock request leaves
// the adapter in normal absolute tracking.
func (m *Mouse) ToggleLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pointerLocked {
		m.surface.ExitPointerLock()
		m.pointerLocked = false
		return false
	}
	if err := m.surface.RequestPointerLock(); err != nil {
		m.logger.Warn("pointer lock failed, staying in absolute tracking", "error", err)
		return false
	}
	m.pointerLocked = true
	return true
}

// Locked reports whether pointer lock is held.
func (m *Mouse) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pointerLocked
}

// roundHalfUp rounds to the nearest integer with exact halves toward
// positive infinity, the rounding the host expects on every
// coordinate and scroll value (-0.5 rounds to 0, not -1).
func roundHalfUp(v float64) int32 {
	return int32(math.Floor(v + 0.5))
}

// toContent maps a client-space point into content pixel space:
// subtract the surface origin, then undo the letterboxing introduced by
// the aspect-ratio mismatch between the rendered box and the native
// resolution, then divide by the scale factor. Reports false while the
// surface has no content resolution yet.
func toContent(s SurfaceMetrics, clientX, clientY float64) (int32, int32, bool) {
	if s.ContentWidth == 0 || s.ContentHeight == 0 || s.ViewWidth == 0 || s.ViewHeight == 0 {
		return 0, 0, false
	}
	px := clientX - s.Left
	py := clientY - s.Top

	var x, y float64
	if s.ViewHeight/s.ViewWidth > s.ContentHeight/s.ContentWidth {
		// Letterboxed top and bottom.
		scale := s.ViewWidth / s.ContentWidth
		x = px / scale
		y = (py - (s.ViewHeight-s.ContentHeight*scale)/2) / scale
	} else {
		// Letterboxed left and right.
		scale := s.ViewHeight / s.ContentHeight
		x = (px - (s.ViewWidth-s.ContentWidth*scale)/2) / scale
		y = py / scale
	}
	return roundHalfUp(x), roundHalfUp(y), true
}

// OnMouseMove handles an absolute pointer move in client space.
// anyButton reports whether any button is held during the move.
func (m *Mouse) OnMouseMove(clientX, clientY float64, anyButton bool) {
	m.mu.Lock()
	if !m.enabled || m.pointerLocked || (!m.trackMovement && !anyButton) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	x, y, ok := toContent(m.surface.Metrics(), clientX, clientY)
	if !ok {
		return
	}
	protocol.Send(m.channel(), protocol.MouseMoveEvent{X: x, Y: y, Absolute: true})
}

// OnLockedMove handles a raw relative movement delta while pointer lock
// is held.
func (m *Mouse) OnLockedMove(dx, dy float64) {
	m.mu.Lock()
	if !m.enabled || !m.pointerLocked {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	protocol.Send(m.channel(), protocol.MouseMoveEvent{
		X:        roundHalfUp(dx),
		Y:        roundHalfUp(dy),
		Absolute: false,
	})
}

// OnMouseButton handles a press or release. buttonIndex is the platform
// index (0=left, 1=middle, 2=right).
func (m *Mouse) OnMouseButton(down bool, clientX, clientY float64, buttonIndex int) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if buttonIndex < 0 || buttonIndex > 2 {
		return
	}
	x, y, ok := toContent(m.surface.Metrics(), clientX, clientY)
	if !ok {
		return
	}
	protocol.Send(m.channel(), protocol.MouseButtonEvent{
		Down:   down,
		X:      x,
		Y:      y,
		Button: protocol.MouseButton(buttonIndex + 1),
	})
}

// OnWheel handles a scroll-wheel delta in pixels.
func (m *Mouse) OnWheel(deltaX, deltaY float64) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	protocol.Send(m.channel(), protocol.MouseWheelEvent{
		DX: roundHalfUp(deltaX / wheelDivisor),
		DY: roundHalfUp(deltaY / wheelDivisor),
	})
}

// OnTouchStart begins a touch gesture.
func (m *Mouse) OnTouchStart(points []TouchPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled || len(points) == 0 {
		return
	}

	m.touchStart = m.now()
	m.touchCount = len(points)
	m.moved = false
	m.twoFinger = false

	if len(points) == 2 {
		m.lastTwoFingerY = (points[0].Y + points[1].Y) / 2
	} else {
		m.lastTouchX = points[0].X
		m.lastTouchY = points[0].Y
	}
}

// OnTouchMove handles movement within a gesture. One finger drags the
// cursor relatively; two fingers scroll (sign inverted for natural
// scrolling).
func (m *Mouse) OnTouchMove(points []TouchPoint) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}

	switch len(points) {
	case 2:
		m.twoFinger = true
		currentY := (points[0].Y + points[1].Y) / 2
		deltaY := currentY - m.lastTwoFingerY
		m.lastTwoFingerY = currentY
		m.mu.Unlock()

		protocol.Send(m.channel(), protocol.MouseWheelEvent{
			DX: 0,
			DY: -roundHalfUp(deltaY / scrollDivisor),
		})

	case 1:
		dx := points[0].X - m.lastTouchX
		dy := points[0].Y - m.lastTouchY
		m.lastTouchX = points[0].X
		m.lastTouchY = points[0].Y
		if math.Abs(dx) > moveThreshold || math.Abs(dy) > moveThreshold {
			m.moved = true
		}
		m.mu.Unlock()

		protocol.Send(m.channel(), protocol.MouseMoveEvent{
			X:        roundHalfUp(dx),
			Y:        roundHalfUp(dy),
			Absolute: false,
		})

	default:
		m.mu.Unlock()
	}
}

// OnTouchEnd finishes a gesture. Quick, stationary gestures synthesize
// clicks: one finger taps left, two fingers tap right, three fingers
// toggle the virtual keyboard. Anything that moved or scrolled ends
// silently.
func (m *Mouse) OnTouchEnd(changed TouchPoint) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}

	quickTap := m.now().Sub(m.touchStart) < tapThreshold
	if !quickTap || m.moved || m.twoFinger {
		m.twoFinger = false
		m.mu.Unlock()
		return
	}
	fingers := m.touchCount
	m.mu.Unlock()

	switch fingers {
	case 1:
		m.tap(changed, protocol.ButtonLeft)
	case 2:
		m.tap(changed, protocol.ButtonRight)
	case 3:
		m.toggleVirtualKeyboard()
	}
}

// tap synthesizes a down/up pair at the touch point, with the up sent
// after a short delay so hosts register a distinct press.
func (m *Mouse) tap(point TouchPoint, button protocol.MouseButton) {
	x, y, ok := toContent(m.surface.Metrics(), point.X, point.Y)
	if !ok {
		return
	}
	protocol.Send(m.channel(), protocol.MouseButtonEvent{Down: true, X: x, Y: y, Button: button})
	m.schedule(clickUpDelay, func() {
		protocol.Send(m.channel(), protocol.MouseButtonEvent{Down: false, X: x, Y: y, Button: button})
	})
}

func (m *Mouse) toggleVirtualKeyboard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keyboard == nil {
		return
	}
	if m.keyboardVisible {
		m.keyboard.Hide()
		m.keyboardVisible = false
	} else {
		m.keyboard.Show()
		m.keyboardVisible = true
	}
}

// KeyboardVisible reports whether the virtual keyboard is summoned.
func (m *Mouse) KeyboardVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyboardVisible
}

// Cleanup disables capture, releases pointer lock if held, dismisses
// the virtual keyboard, and resets all gesture state. Safe to call
// repeatedly.
func (m *Mouse) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.trackMovement = false
	if m.pointerLocked {
		m.surface.ExitPointerLock()
		m.pointerLocked = false
	}
	if m.keyboardVisible {
		if m.keyboard != nil {
			m.keyboard.Hide()
		}
		m.keyboardVisible = false
	}
	m.touchCount = 0
	m.moved = false
	m.twoFinger = false
}
