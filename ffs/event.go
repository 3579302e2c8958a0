//go:build linux
// +build linux

package ffs

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventType denotes the type of a FunctionFS control event, c.f.
// linux/usb/functionfs.h
type EventType uint8

const (
	EventBind EventType = iota
	EventUnbind
	EventEnable
	EventDisable
	EventSetup
	EventSuspend
	EventResume
)

// String returns a human-readable event type name
func (t EventType) String() string {
	switch t {
	case EventBind:
		return "BIND"
	case EventUnbind:
		return "UNBIND"
	case EventEnable:
		return "ENABLE"
	case EventDisable:
		return "DISABLE"
	case EventSetup:
		return "SETUP"
	case EventSuspend:
		return "SUSPEND"
	case EventResume:
		return "RESUME"
	default:
		return "UNKNOWN"
	}
}

// EventSize denotes the wire size of a usb_functionfs_event
const EventSize = 12

// SetupRequest denotes a USB control transfer setup packet
type SetupRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// DirectionIn reports whether the request expects an IN (device-to-host)
// data stage
func (s SetupRequest) DirectionIn() bool {
	return s.RequestType&dirIn != 0
}

// Event denotes a single parsed control event. The Setup field is only
// meaningful for events of type EventSetup
type Event struct {
	Type  EventType
	Setup SetupRequest
}

// String returns a summary suitable for debug logging
func (e Event) String() string {
	if e.Type != EventSetup {
		return e.Type.String()
	}

	return fmt.Sprintf("SETUP (bRequestType: %#02x, bRequest: %#02x, wValue: %d, wIndex: %d, wLength: %d)",
		e.Setup.RequestType, e.Setup.Request, e.Setup.Value, e.Setup.Index, e.Setup.Length)
}

// ParseEvent parses a raw usb_functionfs_event
func ParseEvent(raw []byte) (Event, error) {

	if len(raw) != EventSize {
		return Event{}, fmt.Errorf("unexpected control event size (want %d, have %d)", EventSize, len(raw))
	}

	return Event{
		Type: EventType(raw[8]),
		Setup: SetupRequest{
			RequestType: raw[0],
			Request:     raw[1],
			Value:       binary.LittleEndian.Uint16(raw[2:4]),
			Index:       binary.LittleEndian.Uint16(raw[4:6]),
			Length:      binary.LittleEndian.Uint16(raw[6:8]),
		},
	}, nil
}

// ReadEvent reads and parses a single control event from ep0
func ReadEvent(ep0 int) (Event, error) {

	var raw [EventSize]byte
	n, err := unix.Read(ep0, raw[:])
	if err != nil {
		return Event{}, fmt.Errorf("failed to read control event: %w", err)
	}

	return ParseEvent(raw[:n])
}
