package control

import (
	"sync"
	"testing"
	"time"

	"remotedesk/internal/protocol"
)

// recordChannel captures every frame sent through the adapters, decoded
// back into events for assertion.
type recordChannel struct {
	mu     sync.Mutex
	ready  bool
	events []protocol.Event
}

func newRecordChannel() *recordChannel {
	return &recordChannel{ready: true}
}

func (c *recordChannel) Ready() bool { return c.ready }

func (c *recordChannel) Send(data []byte) error {
	ev, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *recordChannel) take() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

func (c *recordChannel) provider() ChannelProvider {
	return func() protocol.Channel { return c }
}

// fakeClock drives the injectable now/schedule hooks synchronously.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []scheduled
}

type scheduled struct {
	at time.Time
	fn func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) schedule(d time.Duration, fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, scheduled{at: c.current.Add(d), fn: fn})
	c.mu.Unlock()
}

// advance moves time forward and fires anything that came due.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	var due []func()
	var rest []scheduled
	for _, s := range c.pending {
		if !s.at.After(c.current) {
			due = append(due, s.fn)
		} else {
			rest = append(rest, s)
		}
	}
	c.pending = rest
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

type fakeKeySource struct {
	handler  func(KeyInput)
	attached int
	detached int
}

func (s *fakeKeySource) Attach(handler func(KeyInput)) error {
	s.handler = handler
	s.attached++
	return nil
}

func (s *fakeKeySource) Detach() {
	s.handler = nil
	s.detached++
}

func TestKeyboardToggle(t *testing.T) {
	ch := newRecordChannel()
	src := &fakeKeySource{}
	kb := NewKeyboard(src, ch.provider(), nil)

	if kb.Enabled() {
		t.Fatal("keyboard should start disabled")
	}
	if on := kb.Toggle(); !on {
		t.Fatal("Toggle() = false, want true")
	}
	if src.attached != 1 {
		t.Fatalf("attached %d times, want 1", src.attached)
	}

	src.handler(KeyInput{Down: true, Code: "KeyA"})
	src.handler(KeyInput{Down: false, Code: "KeyA"})
	events := ch.take()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	down, ok := events[0].(protocol.KeyEvent)
	if !ok || !down.Down || down.Code != "KeyA" {
		t.Fatalf("first event = %#v, want KeyA down", events[0])
	}
	up, ok := events[1].(protocol.KeyEvent)
	if !ok || up.Down || up.Code != "KeyA" {
		t.Fatalf("second event = %#v, want KeyA up", events[1])
	}

	if on := kb.Toggle(); on {
		t.Fatal("second Toggle() = true, want false")
	}
	if src.detached != 1 {
		t.Fatalf("detached %d times, want 1", src.detached)
	}
}

func TestKeyboardCleanupIdempotent(t *testing.T) {
	ch := newRecordChannel()
	src := &fakeKeySource{}
	kb := NewKeyboard(src, ch.provider(), nil)

	kb.Toggle()
	kb.Cleanup()
	kb.Cleanup()
	if src.detached != 1 {
		t.Fatalf("detached %d times, want 1", src.detached)
	}
	if kb.Enabled() {
		t.Fatal("keyboard still enabled after Cleanup")
	}
}

type fakeSurface struct {
	metrics  SurfaceMetrics
	lockErr  error
	locked   bool
	unlocked int
}

func (s *fakeSurface) Metrics() SurfaceMetrics { return s.metrics }

func (s *fakeSurface) RequestPointerLock() error {
	if s.lockErr != nil {
		return s.lockErr
	}
	s.locked = true
	return nil
}

func (s *fakeSurface) ExitPointerLock() {
	s.locked = false
	s.unlocked++
}

type fakeVirtualKeyboard struct {
	shown, hidden int
}

func (k *fakeVirtualKeyboard) Show() { k.shown++ }
func (k *fakeVirtualKeyboard) Hide() { k.hidden++ }

// 1600x900 view showing 1920x1080 content: uniform scale, no bars.
func uniformSurface() *fakeSurface {
	return &fakeSurface{metrics: SurfaceMetrics{
		ViewWidth: 1600, ViewHeight: 900,
		ContentWidth: 1920, ContentHeight: 1080,
	}}
}

func newTestMouse(t *testing.T) (*Mouse, *recordChannel, *fakeSurface, *fakeClock) {
	t.Helper()
	ch := newRecordChannel()
	surface := uniformSurface()
	clock := newFakeClock()
	m := NewMouse(surface, &fakeVirtualKeyboard{}, ch.provider(), nil)
	m.now = clock.now
	m.schedule = clock.schedule
	m.Toggle()
	return m, ch, surface, clock
}

func TestMouseCoordinateMapping(t *testing.T) {
	tests := []struct {
		name    string
		metrics SurfaceMetrics
		clientX float64
		clientY float64
		wantX   int32
		wantY   int32
	}{
		{
			name: "uniform scale",
			metrics: SurfaceMetrics{
				ViewWidth: 1600, ViewHeight: 900,
				ContentWidth: 1920, ContentHeight: 1080,
			},
			clientX: 800, clientY: 450,
			wantX: 960, wantY: 540,
		},
		{
			name: "offset origin",
			metrics: SurfaceMetrics{
				Left: 100, Top: 50,
				ViewWidth: 1600, ViewHeight: 900,
				ContentWidth: 1920, ContentHeight: 1080,
			},
			clientX: 900, clientY: 500,
			wantX: 960, wantY: 540,
		},
		{
			name: "letterboxed top and bottom",
			metrics: SurfaceMetrics{
				ViewWidth: 1000, ViewHeight: 1000,
				ContentWidth: 2000, ContentHeight: 1000,
			},
			// scale 0.5, content renders 1000x500 with 250px bars.
			clientX: 500, clientY: 500,
			wantX: 1000, wantY: 500,
		},
		{
			name: "letterboxed left and right",
			metrics: SurfaceMetrics{
				ViewWidth: 2000, ViewHeight: 500,
				ContentWidth: 1000, ContentHeight: 1000,
			},
			// scale 0.5, content renders 500x500 with 750px bars.
			clientX: 1000, clientY: 250,
			wantX: 500, wantY: 500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, ok := toContent(tt.metrics, tt.clientX, tt.clientY)
			if !ok {
				t.Fatal("mapping unexpectedly unavailable")
			}
			if x != tt.wantX || y != tt.wantY {
				t.Fatalf("mapped to (%d, %d), want (%d, %d)", x, y, tt.wantX, tt.wantY)
			}
		})
	}

	t.Run("no content resolution yet", func(t *testing.T) {
		_, _, ok := toContent(SurfaceMetrics{ViewWidth: 1600, ViewHeight: 900}, 10, 10)
		if ok {
			t.Fatal("mapping should be unavailable before the content size is known")
		}
	})
}

func TestMouseMoveGating(t *testing.T) {
	m, ch, _, _ := newTestMouse(t)

	m.OnMouseMove(800, 450, false)
	if events := ch.take(); len(events) != 1 {
		t.Fatalf("tracked move produced %d events, want 1", len(events))
	}

	m.ToggleTracking()
	m.OnMouseMove(800, 450, false)
	if events := ch.take(); len(events) != 0 {
		t.Fatal("untracked hover move should be dropped")
	}
	m.OnMouseMove(800, 450, true)
	if events := ch.take(); len(events) != 1 {
		t.Fatal("drag move should be sent even without tracking")
	}
}

func TestMouseWheel(t *testing.T) {
	tests := []struct {
		name   string
		deltaX float64
		deltaY float64
		wantX  int32
		wantY  int32
	}{
		{"three steps down", 0, 96, 0, 3},
		{"positive half rounds up", 0, 16, 0, 1},
		// Exact negative halves round toward positive infinity, as the
		// host does.
		{"negative half rounds to zero", 0, -16, 0, 0},
		{"negative one and a half", 0, -48, 0, -1},
		{"negative full step", -64, -64, -2, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ch, _, _ := newTestMouse(t)
			m.OnWheel(tt.deltaX, tt.deltaY)
			events := ch.take()
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			wheel := events[0].(protocol.MouseWheelEvent)
			if wheel.DX != tt.wantX || wheel.DY != tt.wantY {
				t.Fatalf("wheel = (%d, %d), want (%d, %d)", wheel.DX, wheel.DY, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestMouseButtons(t *testing.T) {
	m, ch, _, _ := newTestMouse(t)

	m.OnMouseButton(true, 800, 450, 2)
	m.OnMouseButton(false, 800, 450, 2)
	events := ch.take()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	down := events[0].(protocol.MouseButtonEvent)
	if !down.Down || down.Button != protocol.ButtonRight || down.X != 960 || down.Y != 540 {
		t.Fatalf("down = %#v", down)
	}
	up := events[1].(protocol.MouseButtonEvent)
	if up.Down || up.Button != protocol.ButtonRight {
		t.Fatalf("up = %#v", up)
	}
}

func TestTouchTapVersusDrag(t *testing.T) {
	t.Run("quick stationary tap clicks", func(t *testing.T) {
		m, ch, _, clock := newTestMouse(t)

		m.OnTouchStart([]TouchPoint{{X: 400, Y: 300}})
		m.OnTouchMove([]TouchPoint{{X: 405, Y: 300}})
		clock.advance(100 * time.Millisecond)
		m.OnTouchEnd(TouchPoint{X: 405, Y: 300})

		events := ch.take()
		// One relative move from the 5px drift, then the down.
		if len(events) != 2 {
			t.Fatalf("got %d events before delayed up, want 2", len(events))
		}
		down, ok := events[1].(protocol.MouseButtonEvent)
		if !ok || !down.Down || down.Button != protocol.ButtonLeft {
			t.Fatalf("events[1] = %#v, want left down", events[1])
		}

		clock.advance(clickUpDelay)
		events = ch.take()
		if len(events) != 1 {
			t.Fatalf("got %d events after delay, want 1", len(events))
		}
		up := events[0].(protocol.MouseButtonEvent)
		if up.Down || up.Button != protocol.ButtonLeft {
			t.Fatalf("delayed event = %#v, want left up", up)
		}
	})

	t.Run("large movement suppresses the click", func(t *testing.T) {
		m, ch, _, clock := newTestMouse(t)

		m.OnTouchStart([]TouchPoint{{X: 400, Y: 300}})
		m.OnTouchMove([]TouchPoint{{X: 415, Y: 300}})
		clock.advance(100 * time.Millisecond)
		m.OnTouchEnd(TouchPoint{X: 415, Y: 300})
		clock.advance(clickUpDelay)

		for _, ev := range ch.take() {
			if _, isButton := ev.(protocol.MouseButtonEvent); isButton {
				t.Fatalf("drag produced a click: %#v", ev)
			}
		}
	})

	t.Run("slow touch suppresses the click", func(t *testing.T) {
		m, ch, _, clock := newTestMouse(t)

		m.OnTouchStart([]TouchPoint{{X: 400, Y: 300}})
		m.OnTouchMove([]TouchPoint{{X: 405, Y: 300}})
		clock.advance(400 * time.Millisecond)
		m.OnTouchEnd(TouchPoint{X: 405, Y: 300})
		clock.advance(clickUpDelay)

		for _, ev := range ch.take() {
			if _, isButton := ev.(protocol.MouseButtonEvent); isButton {
				t.Fatalf("long press produced a click: %#v", ev)
			}
		}
	})
}

func TestTwoFingerScroll(t *testing.T) {
	m, ch, _, clock := newTestMouse(t)

	m.OnTouchStart([]TouchPoint{{X: 400, Y: 300}, {X: 450, Y: 300}})
	m.OnTouchMove([]TouchPoint{{X: 400, Y: 350}, {X: 450, Y: 350}})
	clock.advance(100 * time.Millisecond)
	m.OnTouchEnd(TouchPoint{X: 400, Y: 350})
	clock.advance(clickUpDelay)

	events := ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 wheel event", len(events))
	}
	wheel, ok := events[0].(protocol.MouseWheelEvent)
	if !ok {
		t.Fatalf("event = %#v, want wheel", events[0])
	}
	// Fingers moved down 50px; natural scrolling inverts to -5 steps.
	if wheel.DX != 0 || wheel.DY != -5 {
		t.Fatalf("wheel = (%d, %d), want (0, -5)", wheel.DX, wheel.DY)
	}
}

func TestThreeFingerTapTogglesKeyboard(t *testing.T) {
	ch := newRecordChannel()
	vk := &fakeVirtualKeyboard{}
	clock := newFakeClock()
	m := NewMouse(uniformSurface(), vk, ch.provider(), nil)
	m.now = clock.now
	m.schedule = clock.schedule
	m.Toggle()

	tap := func() {
		m.OnTouchStart([]TouchPoint{{X: 100, Y: 100}, {X: 150, Y: 100}, {X: 200, Y: 100}})
		clock.advance(100 * time.Millisecond)
		m.OnTouchEnd(TouchPoint{X: 100, Y: 100})
	}

	tap()
	if vk.shown != 1 || !m.KeyboardVisible() {
		t.Fatalf("shown %d times, visible %v; want shown once", vk.shown, m.KeyboardVisible())
	}
	tap()
	if vk.hidden != 1 || m.KeyboardVisible() {
		t.Fatalf("hidden %d times, visible %v; want hidden once", vk.hidden, m.KeyboardVisible())
	}
	if len(ch.take()) != 0 {
		t.Fatal("three-finger tap should not emit mouse events")
	}
}

func TestPointerLock(t *testing.T) {
	m, ch, surface, _ := newTestMouse(t)

	if !m.ToggleLock() {
		t.Fatal("ToggleLock should succeed")
	}
	m.OnMouseMove(800, 450, false)
	if len(ch.take()) != 0 {
		t.Fatal("absolute moves should be dropped while locked")
	}

	m.OnLockedMove(7, -3)
	events := ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	move := events[0].(protocol.MouseMoveEvent)
	if move.Absolute || move.X != 7 || move.Y != -3 {
		t.Fatalf("locked move = %#v, want relative (7, -3)", move)
	}

	if m.ToggleLock() {
		t.Fatal("second ToggleLock should release the lock")
	}
	if surface.unlocked != 1 {
		t.Fatalf("lock released %d times, want 1", surface.unlocked)
	}

	surface.lockErr = errLockDenied
	if m.ToggleLock() {
		t.Fatal("denied lock request should leave the adapter unlocked")
	}
	m.OnMouseMove(800, 450, false)
	if len(ch.take()) != 1 {
		t.Fatal("absolute tracking should continue after a denied lock")
	}
}

var errLockDenied = errLock("pointer lock denied")

type errLock string

func (e errLock) Error() string { return string(e) }

func TestMouseCleanup(t *testing.T) {
	m, _, surface, _ := newTestMouse(t)
	m.ToggleLock()

	m.Cleanup()
	m.Cleanup()
	if m.Enabled() || m.Locked() {
		t.Fatal("Cleanup should disable capture and release the lock")
	}
	if surface.unlocked != 1 {
		t.Fatalf("lock released %d times, want 1", surface.unlocked)
	}
}

type fakeGamepadSource struct {
	mu   sync.Mutex
	snap GamepadSnapshot
	ok   bool
}

func (s *fakeGamepadSource) Poll() (GamepadSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.ok
}

func newTestGamepad() (*Gamepad, *recordChannel, *fakeClock) {
	ch := newRecordChannel()
	clock := newFakeClock()
	g := NewGamepad(&fakeGamepadSource{}, ch.provider(), nil)
	g.now = clock.now
	return g, ch, clock
}

func TestGamepadToggleAnnounces(t *testing.T) {
	g, ch, _ := newTestGamepad()

	g.Toggle()
	events := ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	connect, ok := events[0].(protocol.GamepadConnectEvent)
	if !ok || !connect.Connected {
		t.Fatalf("event = %#v, want connect", events[0])
	}

	g.Toggle()
	events = ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	disconnect := events[0].(protocol.GamepadConnectEvent)
	if disconnect.Connected {
		t.Fatalf("event = %#v, want disconnect", events[0])
	}
}

func TestGamepadNormalization(t *testing.T) {
	g, ch, _ := newTestGamepad()
	g.Toggle()
	ch.take()

	g.SubmitState(GamepadSnapshot{
		Axes:     [4]float64{0.05, -1, 1, 0.5},
		Triggers: [2]float64{0.5, 1.2},
		Buttons:  protocol.GamepadButtons{A: true},
	})
	events := ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	state := events[0].(protocol.GamepadStateEvent)
	axes := state.Axes
	if axes.LeftStickX != 0 {
		t.Fatalf("LeftStickX = %d, deadzone should zero small deflections", axes.LeftStickX)
	}
	if axes.LeftStickY != 32767 {
		t.Fatalf("LeftStickY = %d, want 32767 (full up)", axes.LeftStickY)
	}
	if axes.RightStickX != 32767 {
		t.Fatalf("RightStickX = %d, want 32767", axes.RightStickX)
	}
	if axes.RightStickY != -16383 && axes.RightStickY != -16384 {
		t.Fatalf("RightStickY = %d, want half deflection down", axes.RightStickY)
	}
	if axes.LeftTrigger != 127 {
		t.Fatalf("LeftTrigger = %d, want 127", axes.LeftTrigger)
	}
	if axes.RightTrigger != 255 {
		t.Fatalf("RightTrigger = %d, overdriven trigger should clamp to 255", axes.RightTrigger)
	}
	if !state.Buttons.A {
		t.Fatal("A button lost in transit")
	}
}

func TestGamepadIdleSuppression(t *testing.T) {
	g, ch, clock := newTestGamepad()
	g.Toggle()
	ch.take()

	rest := GamepadSnapshot{}
	active := GamepadSnapshot{Buttons: protocol.GamepadButtons{B: true}}

	// Resting frames keep flowing until the idle timeout.
	g.SubmitState(rest)
	clock.advance(time.Second)
	g.SubmitState(rest)
	if got := len(ch.take()); got != 2 {
		t.Fatalf("got %d events before timeout, want 2", got)
	}

	clock.advance(gamepadIdleTimeout)
	g.SubmitState(rest)
	g.SubmitState(rest)
	if got := len(ch.take()); got != 0 {
		t.Fatalf("got %d events while idle, want 0", got)
	}

	// Any activity resumes the stream immediately.
	g.SubmitState(active)
	g.SubmitState(rest)
	if got := len(ch.take()); got != 2 {
		t.Fatalf("got %d events after wake, want 2", got)
	}
}

func TestGamepadHotPlug(t *testing.T) {
	g, _, _ := newTestGamepad()

	g.HandlePlug(true)
	g.mu.Lock()
	physical, virtual := g.hasPhysical, g.virtualActive
	g.mu.Unlock()
	if !physical || virtual {
		t.Fatal("physical controller should take over from the virtual pad")
	}

	g.HandlePlug(false)
	g.mu.Lock()
	physical, virtual = g.hasPhysical, g.virtualActive
	g.mu.Unlock()
	if physical || !virtual {
		t.Fatal("virtual pad should resume when the controller unplugs")
	}
}

func TestGamepadCleanup(t *testing.T) {
	g, ch, _ := newTestGamepad()
	g.Toggle()
	ch.take()

	g.Cleanup()
	events := ch.take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 disconnect", len(events))
	}
	if ev := events[0].(protocol.GamepadConnectEvent); ev.Connected {
		t.Fatalf("event = %#v, want disconnect", ev)
	}

	g.Cleanup()
	if len(ch.take()) != 0 {
		t.Fatal("second Cleanup should not announce again")
	}
	if g.Enabled() {
		t.Fatal("gamepad still enabled after Cleanup")
	}
}
