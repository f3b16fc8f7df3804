package protocol

import (
	"encoding/binary"
	"fmt"
)

// Decode parses one encoded event. It is the host-side inverse of the
// Encode methods and exists so both ends of the wire can be verified
// against the same contract.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty event")
	}
	typ := EventType(data[0])
	payload := data[1:]

	switch typ {
	case EventKeyDown, EventKeyUp:
		code, rest, err := readString(payload)
		if err != nil {
			return nil, fmt.Errorf("key event: %w", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("key event: %d trailing bytes", len(rest))
		}
		return KeyEvent{Down: typ == EventKeyDown, Code: code}, nil

	case EventMouseMove:
		if len(payload) != 9 {
			return nil, fmt.Errorf("mouse move: payload is %d bytes, want 9", len(payload))
		}
		return MouseMoveEvent{
			X:        readInt32(payload[0:]),
			Y:        readInt32(payload[4:]),
			Absolute: payload[8] != 0,
		}, nil

	case EventMouseDown, EventMouseUp:
		if len(payload) != 9 {
			return nil, fmt.Errorf("mouse button: payload is %d bytes, want 9", len(payload))
		}
		button := MouseButton(payload[8])
		if button < ButtonLeft || button > ButtonRight {
			return nil, fmt.Errorf("mouse button: unknown button %d", button)
		}
		return MouseButtonEvent{
			Down:   typ == EventMouseDown,
			X:      readInt32(payload[0:]),
			Y:      readInt32(payload[4:]),
			Button: button,
		}, nil

	case EventMouseWheel:
		if len(payload) != 8 {
			return nil, fmt.Errorf("mouse wheel: payload is %d bytes, want 8", len(payload))
		}
		return MouseWheelEvent{
			DX: readInt32(payload[0:]),
			DY: readInt32(payload[4:]),
		}, nil

	case EventGamepadConnect, EventGamepadDisconnect:
		id, rest, err := readString(payload)
		if err != nil {
			return nil, fmt.Errorf("gamepad connect: %w", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("gamepad connect: %d trailing bytes", len(rest))
		}
		return GamepadConnectEvent{Connected: typ == EventGamepadConnect, ID: id}, nil

	case EventGamepadState:
		id, rest, err := readString(payload)
		if err != nil {
			return nil, fmt.Errorf("gamepad state: %w", err)
		}
		// buttons + four sticks + two triggers + mandatory padding.
		if len(rest) != 14 {
			return nil, fmt.Errorf("gamepad state: %d bytes after id, want 14", len(rest))
		}
		return GamepadStateEvent{
			ID:      id,
			Buttons: buttonsFromBits(binary.LittleEndian.Uint16(rest[0:])),
			Axes: GamepadAxes{
				LeftStickX:   readInt16(rest[2:]),
				LeftStickY:   readInt16(rest[4:]),
				RightStickX:  readInt16(rest[6:]),
				RightStickY:  readInt16(rest[8:]),
				LeftTrigger:  rest[10],
				RightTrigger: rest[11],
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown event type %d", typ)
	}
}

// readString consumes a uint16-length-prefixed string and returns the
// remaining bytes.
func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint16(b))
	if len(b) < 2+n {
		return "", nil, fmt.Errorf("string length %d exceeds remaining %d bytes", n, len(b)-2)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

func readInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func readInt16(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}
