//go:build linux
// +build linux

package aio

import (
	"fmt"
	"unsafe"

	"github.com/fako1024/sdrgadget/event"
)

// Engine denotes a kernel-backed AIO submission / completion queue serving a
// single file descriptor and transfer direction
type Engine struct {
	ctx uintptr
	fd  int
	op  Op
	efd event.EvtFileDescriptor

	bufs    []*TransferBuffer
	events  []ioEvent
	scratch []*iocb
	comps   []Completion
}

// NewEngine instantiates a new AIO engine with the provided queue depth,
// submitting against fd in the provided direction
func NewEngine(fd int, op Op, depth int) (*Engine, error) {

	var ctx uintptr
	if err := ioSetup(depth, &ctx); err != nil {
		return nil, fmt.Errorf("failed to set up AIO context: %w", err)
	}

	efd, err := event.New()
	if err != nil {
		_ = ioDestroy(ctx)
		return nil, err
	}

	return &Engine{
		ctx:    ctx,
		fd:     fd,
		op:     op,
		efd:    efd,
		events: make([]ioEvent, depth),
	}, nil
}

// CompletionFd returns the shared completion event file descriptor
func (e *Engine) CompletionFd() event.EvtFileDescriptor {
	return e.efd
}

// Alloc allocates and registers a transfer buffer of the provided size. The
// embedded request is pre-armed for this engine's direction / fd and tagged
// with the buffer's registry index
func (e *Engine) Alloc(size int) *TransferBuffer {

	buf := &TransferBuffer{
		Data: make([]byte, size),
	}

	// #nosec: G103
	buf.request = iocb{
		data:      uint64(len(e.bufs)),
		lioOpcode: uint16(e.op),
		fildes:    uint32(e.fd),
		buf:       uint64(uintptr(unsafe.Pointer(&buf.Data[0]))),
		nbytes:    uint64(size),
		flags:     iocbFlagResfd,
		resfd:     uint32(e.efd),
	}

	e.bufs = append(e.bufs, buf)

	return buf
}

// Submit enqueues the provided buffers with the kernel, returning the number
// of requests actually accepted
func (e *Engine) Submit(bufs ...*TransferBuffer) (int, error) {

	e.scratch = e.scratch[:0]
	for _, buf := range bufs {
		buf.inUse = true
		e.scratch = append(e.scratch, &buf.request)
	}

	n, err := ioSubmit(e.ctx, e.scratch)
	if err != nil {
		for _, buf := range bufs {
			buf.inUse = false
		}
		return 0, fmt.Errorf("failed to submit async transfers: %w", err)
	}
	if n != len(bufs) {
		for _, buf := range bufs[n:] {
			buf.inUse = false
		}
		return n, ErrSubmitShortfall
	}

	return n, nil
}

// Drain retrieves up to max available completions without blocking. The
// returned slice is only valid until the next call to Drain
func (e *Engine) Drain(max int) ([]Completion, error) {

	if max > len(e.events) {
		max = len(e.events)
	}

	n, err := ioGetEvents(e.ctx, 1, max, e.events)
	if err != nil {
		return nil, fmt.Errorf("failed to read completed transfers: %w", err)
	}

	e.comps = e.comps[:0]
	for i := 0; i < n; i++ {
		buf := e.bufs[e.events[i].data]
		buf.inUse = false

		e.comps = append(e.comps, Completion{
			Buf:  buf,
			Res:  e.events[i].res,
			Res2: e.events[i].res2,
		})
	}

	return e.comps, nil
}

// Teardown cancels all outstanding requests and destroys the AIO context.
// Transfer buffer memory may only be released after this call has returned
func (e *Engine) Teardown() error {

	if err := ioDestroy(e.ctx); err != nil {
		_ = e.efd.Close()
		return fmt.Errorf("failed to destroy AIO context: %w", err)
	}

	return e.efd.Close()
}
