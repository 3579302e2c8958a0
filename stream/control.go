//go:build linux
// +build linux

package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/ffs"
	"golang.org/x/sys/unix"
)

// Vendor control requests understood on the control endpoint. The wValue
// field selects the direction, the start request carries an 8 byte payload
// holding the channel bitmask and the per-transfer sample count (both
// little-endian)
const (
	cmdStart = 0x10
	cmdStop  = 0x11

	startRequestSize = 8
)

func requestDirection(value uint16) Direction {
	if value != 0 {
		return DirectionTX
	}
	return DirectionRX
}

// HandleSetup dispatches a vendor setup request and its payload. Malformed
// and unknown requests are logged and dropped, they never fail the control
// loop
func (s *Supervisor) HandleSetup(setup ffs.SetupRequest, payload []byte) error {

	switch setup.Request {
	case cmdStart:
		if len(payload) != startRequestSize {
			s.log.Warnf("dropping start request with invalid payload size (want %d, have %d byte(s))", startRequestSize, len(payload))
			return nil
		}
		channelMask := binary.LittleEndian.Uint32(payload[0:4])
		samples := binary.LittleEndian.Uint32(payload[4:8])
		return s.Start(requestDirection(setup.Value), channelMask, samples)
	case cmdStop:
		return s.Stop(requestDirection(setup.Value))
	default:
		s.log.Warnf("dropping unknown vendor request %#02x", setup.Request)
		return nil
	}
}

// ControlHandler returns the event loop handler serving the provided
// control endpoint: it reads one gadget event per invocation, acks IN
// setups with a zero-length response, reads the payload of OUT setups and
// tracks the host configuration state. All pipelines are stopped when the
// host disables the function
func (s *Supervisor) ControlHandler(ep0 int) event.Handler {

	return func() error {

		ev, err := ffs.ReadEvent(ep0)
		if err != nil {
			return fmt.Errorf("failed to read control event: %w", err)
		}
		s.log.Debugf("control event: %s", ev)

		switch ev.Type {
		case ffs.EventSetup:
			if ev.Setup.DirectionIn() {

				// Status-only response
				if _, err := unix.Write(ep0, nil); err != nil {
					return fmt.Errorf("failed to ack IN setup request: %w", err)
				}
				return nil
			}

			payload := make([]byte, ev.Setup.Length)
			n, err := unix.Read(ep0, payload)
			if err != nil {
				return fmt.Errorf("failed to read setup payload: %w", err)
			}
			return s.HandleSetup(ev.Setup, payload[:n])

		case ffs.EventEnable:
			s.configured = true

		case ffs.EventDisable:
			if s.configured {
				if err := s.StopAll(); err != nil {
					return err
				}
			}
			s.configured = false
		}

		return nil
	}
}
