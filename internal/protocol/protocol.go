// Package protocol implements the binary input-event wire format sent to
// the remote host over the session's data channel.
//
// Every encoded event starts with a single discriminant byte followed by a
// fixed or string-length-prefixed payload. All multi-byte integers are
// little-endian; strings are a uint16 length prefix followed by UTF-8
// bytes. One encoded event is exactly one channel message, so no outer
// framing is needed.
package protocol

import (
	"encoding/binary"
	"math"
)

// EventType is the leading discriminant byte of every encoded event.
type EventType byte

const (
	EventKeyDown           EventType = 1
	EventKeyUp             EventType = 2
	EventMouseMove         EventType = 3
	EventMouseDown         EventType = 4
	EventMouseUp           EventType = 5
	EventMouseWheel        EventType = 6
	EventGamepadConnect    EventType = 7
	EventGamepadDisconnect EventType = 8
	EventGamepadState      EventType = 9
)

// MouseButton is the wire encoding of a mouse button.
type MouseButton byte

const (
	ButtonLeft   MouseButton = 1
	ButtonMiddle MouseButton = 2
	ButtonRight  MouseButton = 3
)

// Event is a semantic input event that knows its wire encoding.
type Event interface {
	Encode() []byte
}

// KeyEvent is a key press or release. Code is the platform key-code
// identifier (e.g. "KeyA", "Enter").
type KeyEvent struct {
	Down bool
	Code string
}

// MouseMoveEvent is a pointer move. When Absolute is true, X and Y are
// viewport-mapped coordinates; otherwise they are relative deltas.
type MouseMoveEvent struct {
	X, Y     int32
	Absolute bool
}

// MouseButtonEvent is a button press or release at (X, Y).
type MouseButtonEvent struct {
	Down   bool
	X, Y   int32
	Button MouseButton
}

// MouseWheelEvent is a scroll step in wheel units.
type MouseWheelEvent struct {
	DX, DY int32
}

// GamepadConnectEvent announces a gamepad attaching to or detaching from
// the session. ID identifies the controlling client.
type GamepadConnectEvent struct {
	Connected bool
	ID        string
}

// GamepadStateEvent is a full controller snapshot.
type GamepadStateEvent struct {
	ID      string
	Buttons GamepadButtons
	Axes    GamepadAxes
}

// GamepadButtons is the named-button set carried in the 16-bit state
// bitfield. Bit 15 is unused and always zero on the wire.
type GamepadButtons struct {
	A, B, X, Y            bool
	LB, RB                bool
	Start, Back, Guide    bool
	LeftStick, RightStick bool
	DpadUp, DpadDown      bool
	DpadLeft, DpadRight   bool
}

// Bits packs the buttons into their wire bitfield. Bit assignments:
// a=0 b=1 x=2 y=3 lb=4 rb=5 start=6 back=7 guide=8 left_stick=9
// right_stick=10 dpad_up=11 dpad_down=12 dpad_left=13 dpad_right=14.
func (g GamepadButtons) Bits() uint16 {
	var bits uint16
	set := func(pressed bool, bit uint) {
		if pressed {
			bits |= 1 << bit
		}
	}
	set(g.A, 0)
	set(g.B, 1)
	set(g.X, 2)
	set(g.Y, 3)
	set(g.LB, 4)
	set(g.RB, 5)
	set(g.Start, 6)
	set(g.Back, 7)
	set(g.Guide, 8)
	set(g.LeftStick, 9)
	set(g.RightStick, 10)
	set(g.DpadUp, 11)
	set(g.DpadDown, 12)
	set(g.DpadLeft, 13)
	set(g.DpadRight, 14)
	return bits
}

// Any reports whether at least one button is pressed.
func (g GamepadButtons) Any() bool {
	return g.Bits() != 0
}

// buttonsFromBits is the inverse of Bits. Bit 15 is ignored.
func buttonsFromBits(bits uint16) GamepadButtons {
	get := func(bit uint) bool { return bits&(1<<bit) != 0 }
	return GamepadButtons{
		A:          get(0),
		B:          get(1),
		X:          get(2),
		Y:          get(3),
		LB:         get(4),
		RB:         get(5),
		Start:      get(6),
		Back:       get(7),
		Guide:      get(8),
		LeftStick:  get(9),
		RightStick: get(10),
		DpadUp:     get(11),
		DpadDown:   get(12),
		DpadLeft:   get(13),
		DpadRight:  get(14),
	}
}

// GamepadAxes holds the analog state. Sticks are full-range int16
// ([-32767, 32767]); triggers are 0 to 255, the canonical host
// contract.
type GamepadAxes struct {
	LeftStickX, LeftStickY    int16
	RightStickX, RightStickY  int16
	LeftTrigger, RightTrigger uint8
}

// Zero reports whether every axis and trigger is at rest.
func (a GamepadAxes) Zero() bool {
	return a == GamepadAxes{}
}

// appendString appends a uint16 little-endian length prefix followed by
// the UTF-8 bytes of s. Strings whose encoding exceeds 65535 bytes are
// truncated at the prefix limit; callers are expected to stay far below
// it (key codes and client IDs are short).
func appendString(dst []byte, s string) []byte {
	b := []byte(s)
	if len(b) > math.MaxUint16 {
		b = b[:math.MaxUint16]
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}

func appendInt32(dst []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(v))
}

func appendInt16(dst []byte, v int16) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(v))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Encode returns [type][len:2][code bytes].
func (e KeyEvent) Encode() []byte {
	typ := EventKeyUp
	if e.Down {
		typ = EventKeyDown
	}
	return appendString([]byte{byte(typ)}, e.Code)
}

// Encode returns [type][x:4][y:4][absolute:1].
func (e MouseMoveEvent) Encode() []byte {
	out := []byte{byte(EventMouseMove)}
	out = appendInt32(out, e.X)
	out = appendInt32(out, e.Y)
	return append(out, boolByte(e.Absolute))
}

// Encode returns [type][x:4][y:4][button:1].
func (e MouseButtonEvent) Encode() []byte {
	typ := EventMouseUp
	if e.Down {
		typ = EventMouseDown
	}
	out := []byte{byte(typ)}
	out = appendInt32(out, e.X)
	out = appendInt32(out, e.Y)
	return append(out, byte(e.Button))
}

// Encode returns [type][x:4][y:4].
func (e MouseWheelEvent) Encode() []byte {
	out := []byte{byte(EventMouseWheel)}
	out = appendInt32(out, e.DX)
	return appendInt32(out, e.DY)
}

// Encode returns [type][len:2][id bytes].
func (e GamepadConnectEvent) Encode() []byte {
	typ := EventGamepadDisconnect
	if e.Connected {
		typ = EventGamepadConnect
	}
	return appendString([]byte{byte(typ)}, e.ID)
}

// Encode returns [type][len:2][id][buttons:2][lx:2][ly:2][rx:2][ry:2]
// [lt:1][rt:1][pad:2]. The two trailing padding bytes are required by
// the host wire format and carry no information.
func (e GamepadStateEvent) Encode() []byte {
	out := appendString([]byte{byte(EventGamepadState)}, e.ID)
	out = appendInt16(out, int16(e.Buttons.Bits()))
	out = appendInt16(out, e.Axes.LeftStickX)
	out = appendInt16(out, e.Axes.LeftStickY)
	out = appendInt16(out, e.Axes.RightStickX)
	out = appendInt16(out, e.Axes.RightStickY)
	out = append(out, e.Axes.LeftTrigger, e.Axes.RightTrigger)
	return append(out, 0, 0)
}
