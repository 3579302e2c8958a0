//go:build linux
// +build linux

/*
Package ffs handles the USB FunctionFS gadget side of the daemon: opening the
control and bulk endpoint files of a mounted function directory, constructing
the descriptor / string blobs the kernel expects on ep0 at startup and
parsing the control events delivered on ep0 thereafter.
*/
package ffs

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Endpoints denotes the open endpoint file descriptors of a FunctionFS
// function: the control endpoint, the bulk IN endpoint carrying device-to-host
// sample data and the bulk OUT endpoint carrying host-to-device sample data
type Endpoints struct {
	EP0 int
	In  int
	Out int
}

// Open opens the endpoint files beneath the provided FunctionFS mount
// directory and writes the USB descriptors to ep0, making the function bind
func Open(dir string) (*Endpoints, error) {

	ep0, err := unix.Open(filepath.Join(dir, "ep0"), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open ep0: %w", err)
	}

	if err := WriteDescriptors(ep0); err != nil {
		_ = unix.Close(ep0)
		return nil, err
	}

	epIn, err := unix.Open(filepath.Join(dir, "ep1"), unix.O_WRONLY, 0)
	if err != nil {
		_ = unix.Close(ep0)
		return nil, fmt.Errorf("failed to open ep1: %w", err)
	}

	epOut, err := unix.Open(filepath.Join(dir, "ep2"), unix.O_RDONLY, 0)
	if err != nil {
		_ = unix.Close(ep0)
		_ = unix.Close(epIn)
		return nil, fmt.Errorf("failed to open ep2: %w", err)
	}

	return &Endpoints{
		EP0: ep0,
		In:  epIn,
		Out: epOut,
	}, nil
}

// Close closes all endpoint file descriptors
func (e *Endpoints) Close() error {

	var firstErr error
	for _, fd := range []int{e.EP0, e.In, e.Out} {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
