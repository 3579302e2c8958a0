//go:build linux
// +build linux

/*
Package event provides access to the system-level event file descriptors and
the epoll(7) based reactor that drive the streaming pipelines. Each pipeline
runs a single-threaded reactor multiplexing its cancellation eventfd, the
asynchronous transfer completion eventfd and (optionally) a periodic timer
onto registered handlers. The same reactor also serves the control thread for
USB control endpoint events.
*/
package event

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EvtFileDescriptor denotes a system-level event file descriptor
type EvtFileDescriptor int

// EvtData denotes the data sent / received during an event
type EvtData [8]byte

// SignalQuit requests an orderly stop of the receiving pipeline
var SignalQuit = EvtData{1, 0, 0, 0, 0, 0, 0, 0}

// New instantiates a new non-blocking event file descriptor
func New() (EvtFileDescriptor, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("failed to create event file descriptor: %w", err)
	}

	return EvtFileDescriptor(efd), nil
}

// Signal sends an event via the event file descriptor
func (e EvtFileDescriptor) Signal(data EvtData) error {
	n, err := unix.Write(int(e), data[:])
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("failed to send event (unexpected number of bytes written, want %d, have %d)", len(data), n)
	}

	return nil
}

// ReadEvent reads (and thereby resets) the event data from the event file
// descriptor
func (e EvtFileDescriptor) ReadEvent() (EvtData, error) {
	var data EvtData
	n, err := unix.Read(int(e), data[:])
	if err != nil {
		return data, fmt.Errorf("failed to read event data: %w", err)
	}
	if n != len(data) {
		return data, fmt.Errorf("failed to read event data (unexpected number of bytes read, want %d, have %d)", len(data), n)
	}

	return data, nil
}

// Close closes the event file descriptor
func (e EvtFileDescriptor) Close() error {
	return unix.Close(int(e))
}
