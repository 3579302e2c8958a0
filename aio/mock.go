//go:build linux
// +build linux

package aio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fako1024/sdrgadget/event"
)

// MockEngine denotes a fully mocked submission / completion queue. Completion
// signalling uses a genuine event file descriptor, so a pipeline under test
// exercises the exact same reactor path as with a kernel-backed Engine, while
// tests control when (and with which result) submitted requests complete.
// Unlike the kernel-backed Engine it is safe for concurrent use, allowing
// tests to drive completions from outside the pipeline thread
type MockEngine struct {
	sync.Mutex

	efd event.EvtFileDescriptor

	bufs    []*TransferBuffer
	pending []*TransferBuffer
	done    []Completion
	comps   []Completion

	submissions map[*TransferBuffer]int
	acceptLimit int
	tornDown    bool
	earlyFree   bool
}

// NewMockEngine instantiates a new mock queue
func NewMockEngine() (*MockEngine, error) {
	efd, err := event.New()
	if err != nil {
		return nil, err
	}

	return &MockEngine{
		efd:         efd,
		submissions: make(map[*TransferBuffer]int),
		acceptLimit: -1,
	}, nil
}

// CompletionFd returns the completion event file descriptor
func (m *MockEngine) CompletionFd() event.EvtFileDescriptor {
	return m.efd
}

// Alloc allocates and registers a transfer buffer of the provided size
func (m *MockEngine) Alloc(size int) *TransferBuffer {
	m.Lock()
	defer m.Unlock()

	buf := &TransferBuffer{
		Data: make([]byte, size),
	}
	m.bufs = append(m.bufs, buf)

	return buf
}

// Submit enqueues the provided buffers. If an accept limit was set via
// SetAcceptLimit(), requests beyond the limit are rejected to simulate a
// submission shortfall
func (m *MockEngine) Submit(bufs ...*TransferBuffer) (int, error) {
	m.Lock()
	defer m.Unlock()

	if m.tornDown {
		return 0, errors.New("submit on torn down queue")
	}
	if len(bufs) == 0 {
		return 0, nil
	}

	accepted := len(bufs)
	if m.acceptLimit >= 0 && accepted > m.acceptLimit {
		accepted = m.acceptLimit
	}

	for _, buf := range bufs[:accepted] {
		buf.inUse = true
		m.submissions[buf]++
		m.pending = append(m.pending, buf)
	}
	m.acceptLimit = -1

	if accepted != len(bufs) {
		return accepted, ErrSubmitShortfall
	}

	return accepted, nil
}

// Complete finishes the oldest pending request with the provided result code
// and signals the completion event file descriptor
func (m *MockEngine) Complete(res int64) error {
	m.Lock()
	defer m.Unlock()

	return m.complete(res)
}

func (m *MockEngine) complete(res int64) error {

	if len(m.pending) == 0 {
		return errors.New("no pending request to complete")
	}

	buf := m.pending[0]
	m.pending = m.pending[1:]
	buf.inUse = false

	m.done = append(m.done, Completion{Buf: buf, Res: res})

	return m.efd.Signal(event.EvtData{1, 0, 0, 0, 0, 0, 0, 0})
}

// CompleteData copies the provided payload into the oldest pending request's
// buffer and finishes it with the payload length as result
func (m *MockEngine) CompleteData(data []byte) error {
	m.Lock()
	defer m.Unlock()

	if len(m.pending) == 0 {
		return errors.New("no pending request to complete")
	}
	if len(data) > len(m.pending[0].Data) {
		return fmt.Errorf("payload exceeds buffer size (want <= %d, have %d)", len(m.pending[0].Data), len(data))
	}

	copy(m.pending[0].Data, data)

	return m.complete(int64(len(data)))
}

// Drain retrieves up to max available completions without blocking
func (m *MockEngine) Drain(max int) ([]Completion, error) {
	m.Lock()
	defer m.Unlock()

	n := len(m.done)
	if n > max {
		n = max
	}

	m.comps = append(m.comps[:0], m.done[:n]...)
	m.done = m.done[n:]

	return m.comps, nil
}

// Teardown cancels all pending requests and closes the completion event file
// descriptor. Buffers released before this call are recorded (and reported
// via BufferFreedBeforeTeardown) since they would constitute a use-after-free
// with a kernel-backed queue
func (m *MockEngine) Teardown() error {
	m.Lock()
	defer m.Unlock()

	for _, buf := range m.bufs {
		if buf.Data == nil {
			m.earlyFree = true
		}
	}

	m.pending = m.pending[:0]
	m.tornDown = true

	return m.efd.Close()
}

// SetAcceptLimit caps the number of requests accepted by the next call to
// Submit (simulating a kernel-side submission shortfall)
func (m *MockEngine) SetAcceptLimit(n int) {
	m.Lock()
	defer m.Unlock()

	m.acceptLimit = n
}

// Pending returns the number of submitted, not yet completed requests
func (m *MockEngine) Pending() int {
	m.Lock()
	defer m.Unlock()

	return len(m.pending)
}

// PendingData returns copies of the payloads of all pending requests (in
// submission order)
func (m *MockEngine) PendingData() [][]byte {
	m.Lock()
	defer m.Unlock()

	data := make([][]byte, 0, len(m.pending))
	for _, buf := range m.pending {
		cp := make([]byte, len(buf.Data))
		copy(cp, buf.Data)
		data = append(data, cp)
	}

	return data
}

// Submissions returns how often the provided buffer was submitted
func (m *MockEngine) Submissions(buf *TransferBuffer) int {
	m.Lock()
	defer m.Unlock()

	return m.submissions[buf]
}

// TornDown reports whether Teardown() was called
func (m *MockEngine) TornDown() bool {
	m.Lock()
	defer m.Unlock()

	return m.tornDown
}

// BufferFreedBeforeTeardown reports whether any registered buffer was
// released before Teardown() was called
func (m *MockEngine) BufferFreedBeforeTeardown() bool {
	m.Lock()
	defer m.Unlock()

	return m.earlyFree
}
