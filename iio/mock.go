//go:build linux
// +build linux

package iio

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MockStream denotes a fully mocked streaming device. Buffer readiness is
// signalled via a genuine semaphore event file descriptor, so a pipeline
// under test exercises the exact same reactor path as with real hardware
type MockStream struct {
	sampleSize int

	mask        uint32
	allDisabled bool
	createErr   error

	// Buf denotes the mock sample buffer handed out by CreateBuffer
	Buf *MockBuffer
}

// NewMockStream instantiates a new mock device with the provided per-sample
// byte stride
func NewMockStream(sampleSize int) *MockStream {
	return &MockStream{sampleSize: sampleSize}
}

// DisableAllChannels records that all channels were disabled
func (m *MockStream) DisableAllChannels() error {
	m.allDisabled = true
	m.mask = 0
	return nil
}

// EnableChannels records the enabled channel bitmask
func (m *MockStream) EnableChannels(mask uint32) error {
	m.mask = mask
	return nil
}

// SampleSize returns the configured per-sample byte stride
func (m *MockStream) SampleSize() (int, error) {
	return m.sampleSize, nil
}

// CreateBuffer allocates a new mock sample buffer (or fails with the error
// configured via FailBufferCreation). If a buffer was pre-set on Buf it is
// handed out as-is, allowing tests to interact with it before the pipeline
// under test reaches buffer creation
func (m *MockStream) CreateBuffer(samples uint32) (SampleBuffer, error) {

	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.Buf != nil {
		return m.Buf, nil
	}

	buf, err := NewMockBuffer(int(samples) * m.sampleSize)
	if err != nil {
		return nil, err
	}
	m.Buf = buf

	return buf, nil
}

// FailBufferCreation makes the next call to CreateBuffer fail with err
func (m *MockStream) FailBufferCreation(err error) {
	m.createErr = err
}

// EnabledMask returns the channel bitmask recorded by EnableChannels
func (m *MockStream) EnabledMask() uint32 {
	return m.mask
}

// AllDisabled reports whether DisableAllChannels was called
func (m *MockStream) AllDisabled() bool {
	return m.allDisabled
}

// MockBuffer denotes a mock sample buffer. Refills are injected by the test
// via Inject(), pushes are recorded for assertion. It is safe for concurrent
// use, allowing tests to drive it from outside the pipeline thread
type MockBuffer struct {
	sync.Mutex

	efd  int
	data []byte

	frames    chan []byte
	pushed    [][]byte
	shortPush int
	destroyed bool
}

// NewMockBuffer instantiates a new mock sample buffer of the provided byte
// size
func NewMockBuffer(size int) (*MockBuffer, error) {

	// Semaphore semantics: one readiness tick per injected frame, consumed
	// on refill
	efd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE)
	if err != nil {
		return nil, fmt.Errorf("failed to create mock readiness descriptor: %w", err)
	}

	return &MockBuffer{
		efd:    efd,
		data:   make([]byte, size),
		frames: make(chan []byte, 64),
	}, nil
}

// Inject queues a frame of sample data and signals buffer readiness
func (m *MockBuffer) Inject(frame []byte) error {

	select {
	case m.frames <- frame:
	default:
		return errors.New("mock frame queue is full")
	}

	var one = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	if _, err := unix.Write(m.efd, one[:]); err != nil {
		return fmt.Errorf("failed to signal mock readiness: %w", err)
	}

	return nil
}

// Fd returns the readiness file descriptor
func (m *MockBuffer) Fd() int {
	return m.efd
}

// Bytes returns the backing sample memory
func (m *MockBuffer) Bytes() []byte {
	return m.data
}

// Refill consumes one readiness tick and copies the oldest injected frame
// into the buffer, returning the frame length
func (m *MockBuffer) Refill() (int, error) {

	var tick [8]byte
	if _, err := unix.Read(m.efd, tick[:]); err != nil {
		return 0, fmt.Errorf("failed to consume mock readiness: %w", err)
	}

	frame := <-m.frames
	copy(m.data, frame)

	return len(frame), nil
}

// Push records a copy of the buffer contents, returning the full buffer size
// (or the short count configured via SetShortPush)
func (m *MockBuffer) Push() (int, error) {
	m.Lock()
	defer m.Unlock()

	cp := make([]byte, len(m.data))
	copy(cp, m.data)
	m.pushed = append(m.pushed, cp)

	n := len(m.data)
	if m.shortPush > 0 {
		n = m.shortPush
		m.shortPush = 0
	}

	return n, nil
}

// SetShortPush makes the next Push return the provided short byte count,
// simulating a hardware underrun
func (m *MockBuffer) SetShortPush(n int) {
	m.Lock()
	defer m.Unlock()

	m.shortPush = n
}

// Pushed returns the recorded push payloads
func (m *MockBuffer) Pushed() [][]byte {
	m.Lock()
	defer m.Unlock()

	return m.pushed
}

// Backlog returns the number of injected, not yet consumed frames
func (m *MockBuffer) Backlog() int {
	return len(m.frames)
}

// Destroy closes the readiness descriptor
func (m *MockBuffer) Destroy() error {
	m.Lock()
	defer m.Unlock()

	m.destroyed = true
	return unix.Close(m.efd)
}

// Destroyed reports whether Destroy was called
func (m *MockBuffer) Destroyed() bool {
	m.Lock()
	defer m.Unlock()

	return m.destroyed
}
