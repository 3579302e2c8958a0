//go:build linux
// +build linux

/*
Package aio wraps the Linux kernel asynchronous I/O facility (io_setup(2) and
friends) for use by the streaming pipelines. An Engine owns one kernel AIO
context serving a single file descriptor and transfer direction; all requests
are armed to signal one shared completion event file descriptor, which the
owning pipeline registers with its reactor.

Buffers are identified towards the kernel by their registry index (carried in
the request's data tag) rather than by pointer, so completions can be mapped
back to their TransferBuffer without any unsafe round-trips.
*/
package aio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux AIO command codes / flags, c.f.
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/aio_abi.h
const (
	iocbCmdPRead  = 0
	iocbCmdPWrite = 1

	iocbFlagResfd = 1 << 0
)

// iocb denotes the 64-byte kernel AIO control block (little-endian layout)
type iocb struct {
	data      uint64
	key       uint32
	rwFlags   uint32
	lioOpcode uint16
	reqPrio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resfd     uint32
}

// ioEvent denotes a single kernel AIO completion record
type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

func ioSetup(nr int, ctx *uintptr) error {
	// #nosec: G103
	_, _, errno := unix.Syscall(unix.SYS_IO_SETUP, uintptr(nr), uintptr(unsafe.Pointer(ctx)), 0)
	if errno != 0 {
		return errno
	}

	return nil
}

func ioSubmit(ctx uintptr, iocbs []*iocb) (int, error) {
	if len(iocbs) == 0 {
		return 0, nil
	}

	// #nosec: G103
	n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT, ctx, uintptr(len(iocbs)), uintptr(unsafe.Pointer(&iocbs[0])))
	if errno != 0 {
		return int(n), errno
	}

	return int(n), nil
}

func ioGetEvents(ctx uintptr, minNr, maxNr int, events []ioEvent) (int, error) {

	// Zero timeout: the call never blocks, it reads exactly the completions
	// that are already available
	var timeout unix.Timespec

	// #nosec: G103
	n, _, errno := unix.Syscall6(unix.SYS_IO_GETEVENTS, ctx,
		uintptr(minNr), uintptr(maxNr),
		uintptr(unsafe.Pointer(&events[0])), uintptr(unsafe.Pointer(&timeout)), 0)
	if errno != 0 {
		return int(n), errno
	}

	return int(n), nil
}

func ioDestroy(ctx uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IO_DESTROY, ctx, 0, 0)
	if errno != 0 {
		return errno
	}

	return nil
}
