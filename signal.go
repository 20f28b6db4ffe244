package push

import "fmt"

// ProtocolVersion identifies the signal table below. Both peers must agree on it.
const ProtocolVersion = 1

// Signal is the message kind carried in the first byte of every frame header.
type Signal uint8

// Signal codes as they appear on the wire.
const (
	// SignalSub registers the client for pushes. Body: {"uid":"<id>"}.
	SignalSub Signal = 1
	// SignalPing is the heartbeat, sent by either side. Body: {"interval":<millis>}.
	SignalPing Signal = 2
	// SignalPush carries a server-originated notification.
	SignalPush Signal = 3
)

var signalNames = map[Signal]string{
	SignalSub:  "SUB",
	SignalPing: "PING",
	SignalPush: "PUSH",
}

// ParseSignal maps a wire code to a Signal.
// The boolean is false for codes outside the table.
func ParseSignal(code byte) (Signal, bool) {
	s := Signal(code)
	_, ok := signalNames[s]
	return s, ok
}

// Valid reports whether s is part of the signal table.
func (s Signal) Valid() bool {
	_, ok := signalNames[s]
	return ok
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Signal(0x%02x)", uint8(s))
}
