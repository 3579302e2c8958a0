//go:build linux
// +build linux

package aio

import (
	"errors"

	"github.com/fako1024/sdrgadget/event"
	"golang.org/x/sys/unix"
)

// ErrSubmitShortfall denotes that fewer requests were accepted than were
// submitted. Since the queue depth equals the number of transfer buffers this
// cannot be transient backpressure and is fatal to the owning pipeline
var ErrSubmitShortfall = errors.New("not all async transfer requests were accepted")

// Op denotes the transfer direction served by a queue
type Op uint16

const (

	// OpRead transfers data from the file descriptor into the buffer
	OpRead Op = iocbCmdPRead

	// OpWrite transfers data from the buffer to the file descriptor
	OpWrite Op = iocbCmdPWrite
)

// TransferBuffer denotes a fixed-size transfer memory region together with
// its embedded asynchronous request descriptor. Buffers are exclusively owned
// by the pipeline that allocated them and must only be released after the
// owning queue was torn down (guaranteeing the kernel no longer writes into
// them)
type TransferBuffer struct {
	request iocb
	inUse   bool

	// Data denotes the backing transfer memory
	Data []byte
}

// InUse reports whether the buffer currently has a request in flight
func (b *TransferBuffer) InUse() bool {
	return b.inUse
}

// Release drops the backing transfer memory. Must not be called before the
// owning queue's Teardown() has returned
func (b *TransferBuffer) Release() {
	b.Data = nil
}

// Completion denotes the outcome of a single finished transfer request
type Completion struct {

	// Buf denotes the transfer buffer the request originated from
	Buf *TransferBuffer

	// Res / Res2 denote the raw kernel result codes (Res carries the number
	// of bytes transferred on success, a negated errno on failure)
	Res  int64
	Res2 int64
}

// Shutdown reports whether the transfer failed because the endpoint was
// disabled mid-transfer (an expected, silent condition while the USB host
// deconfigures the interface)
func (c Completion) Shutdown() bool {
	return c.Res == -int64(unix.ESHUTDOWN)
}

// Queue denotes a submission / completion queue for asynchronous transfers
// against a single file descriptor. It is implemented by the kernel-backed
// Engine and by MockEngine for hardware-free testing
type Queue interface {

	// CompletionFd returns the shared completion event file descriptor to be
	// registered with the owning pipeline's reactor
	CompletionFd() event.EvtFileDescriptor

	// Alloc allocates and registers a transfer buffer of the provided size,
	// pre-armed for submission on this queue
	Alloc(size int) *TransferBuffer

	// Submit enqueues the provided buffers, returning the number of requests
	// actually accepted (any shortfall yields ErrSubmitShortfall)
	Submit(bufs ...*TransferBuffer) (int, error)

	// Drain retrieves up to max available completions without blocking. It
	// must only be called after the completion event source has signalled,
	// which guarantees at least one pending completion
	Drain(max int) ([]Completion, error)

	// Teardown cancels all outstanding requests and releases the queue. It
	// must be the last operation performed on the queue and must precede any
	// release of transfer buffer memory
	Teardown() error
}
