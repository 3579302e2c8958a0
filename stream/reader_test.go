//go:build linux
// +build linux

package stream

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fako1024/sdrgadget/aio"
	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/iio"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"
)

const (
	testSampleSize   = 4
	testSamples      = 8
	testTransferSize = testSampleSize * testSamples

	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

type readerRig struct {
	reader *Reader
	queue  *aio.MockEngine
	buf    *iio.MockBuffer
	quitFd event.EvtFileDescriptor
	done   chan error
}

func startReader(t *testing.T, buffers int, logger *zap.SugaredLogger) *readerRig {
	t.Helper()

	quitFd, err := event.New()
	require.NoError(t, err)

	queue, err := aio.NewMockEngine()
	require.NoError(t, err)

	dev := iio.NewMockStream(testSampleSize)
	buf, err := iio.NewMockBuffer(testTransferSize)
	require.NoError(t, err)
	dev.Buf = buf

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	rig := &readerRig{
		reader: NewReader(Config{
			ChannelMask: 0x3,
			Samples:     testSamples,
			QuitFd:      quitFd,
			Buffers:     buffers,
		}, logger, WithStream(dev), WithQueue(queue)),
		queue:  queue,
		buf:    buf,
		quitFd: quitFd,
		done:   make(chan error, 1),
	}
	go func() {
		rig.done <- rig.reader.Run()
	}()

	return rig
}

func (r *readerRig) stop(t *testing.T) error {
	t.Helper()

	require.NoError(t, r.quitFd.Signal(event.SignalQuit))
	select {
	case err := <-r.done:
		require.NoError(t, r.quitFd.Close())
		return err
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for pipeline to wind down")
	}

	return nil
}

func frame(fill byte, size int) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func TestReaderSubmitOnRefill(t *testing.T) {

	rig := startReader(t, 4, nil)

	require.NoError(t, rig.buf.Inject(frame(0xaa, testTransferSize)))
	require.NoError(t, rig.buf.Inject(frame(0xbb, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 2
	}, waitFor, tick)

	pending := rig.queue.PendingData()
	require.Len(t, pending, 2)
	require.Equal(t, frame(0xaa, testTransferSize), pending[0])
	require.Equal(t, frame(0xbb, testTransferSize), pending[1])

	require.NoError(t, rig.stop(t))
	require.Zero(t, rig.reader.Stats().PoolOverflows)
	require.True(t, rig.queue.TornDown())
	require.False(t, rig.queue.BufferFreedBeforeTeardown())
	require.True(t, rig.buf.Destroyed())
}

func TestReaderPoolOverflow(t *testing.T) {

	rig := startReader(t, 2, nil)

	// One frame more than the pool can hold while the host consumes nothing
	for i := 0; i < 3; i++ {
		require.NoError(t, rig.buf.Inject(frame(byte(i), testTransferSize)))
	}
	require.Eventually(t, func() bool {
		return rig.buf.Backlog() == 0 && rig.queue.Pending() == 2
	}, waitFor, tick)

	require.NoError(t, rig.stop(t))
	require.Equal(t, uint64(1), rig.reader.Stats().PoolOverflows)
}

func TestReaderRecycleOnCompletion(t *testing.T) {

	rig := startReader(t, 2, nil)

	require.NoError(t, rig.buf.Inject(frame(1, testTransferSize)))
	require.NoError(t, rig.buf.Inject(frame(2, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 2
	}, waitFor, tick)

	// Completing a transfer returns its buffer to the pool, making room for
	// one more frame
	require.NoError(t, rig.queue.Complete(testTransferSize))
	require.NoError(t, rig.buf.Inject(frame(3, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 2
	}, waitFor, tick)

	require.NoError(t, rig.stop(t))
	require.Zero(t, rig.reader.Stats().PoolOverflows)
}

func TestReaderDrainBeforeRefill(t *testing.T) {

	rig := startReader(t, 1, nil)

	require.NoError(t, rig.buf.Inject(frame(1, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 1
	}, waitFor, tick)

	// With the single buffer in flight, a completion and a fresh frame
	// arriving together must not drop the frame: the completion is drained
	// first, freeing the buffer the frame needs
	require.NoError(t, rig.queue.Complete(testTransferSize))
	require.NoError(t, rig.buf.Inject(frame(2, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.buf.Backlog() == 0 && rig.queue.Pending() == 1
	}, waitFor, tick)

	require.NoError(t, rig.stop(t))
	require.Zero(t, rig.reader.Stats().PoolOverflows)
}

func TestReaderShortRefill(t *testing.T) {

	rig := startReader(t, 2, nil)

	// A single short refill is discarded without counting an overflow,
	// subsequent full frames pass through untouched
	require.NoError(t, rig.buf.Inject(frame(0xee, testTransferSize/2)))
	require.NoError(t, rig.buf.Inject(frame(1, testTransferSize)))
	require.NoError(t, rig.buf.Inject(frame(2, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.buf.Backlog() == 0 && rig.queue.Pending() == 2
	}, waitFor, tick)

	for _, data := range rig.queue.PendingData() {
		require.Len(t, data, testTransferSize)
	}

	require.NoError(t, rig.stop(t))
	require.Zero(t, rig.reader.Stats().PoolOverflows)
}

func TestReaderCompletionResults(t *testing.T) {

	core, observed := observer.New(zap.WarnLevel)
	rig := startReader(t, 2, zap.New(core).Sugar())

	// A short completion is logged, a shutdown result is expected during
	// wind-down and is not
	require.NoError(t, rig.buf.Inject(frame(1, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 1
	}, waitFor, tick)
	require.NoError(t, rig.queue.Complete(testTransferSize/2))
	require.Eventually(t, func() bool {
		return observed.FilterMessageSnippet("bulk IN transfer failed").Len() == 1
	}, waitFor, tick)

	require.NoError(t, rig.buf.Inject(frame(2, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 1
	}, waitFor, tick)
	require.NoError(t, rig.queue.Complete(-int64(unix.ESHUTDOWN)))

	// Recycled twice, so a third frame still finds a free buffer
	require.NoError(t, rig.buf.Inject(frame(3, testTransferSize)))
	require.Eventually(t, func() bool {
		return rig.queue.Pending() == 1
	}, waitFor, tick)

	require.NoError(t, rig.stop(t))
	require.Equal(t, 1, observed.FilterMessageSnippet("bulk IN transfer failed").Len())
	require.Zero(t, rig.reader.Stats().PoolOverflows)
}

func TestReaderSetupFailure(t *testing.T) {

	quitFd, err := event.New()
	require.NoError(t, err)
	defer func() {
		require.NoError(t, quitFd.Close())
	}()

	queue, err := aio.NewMockEngine()
	require.NoError(t, err)

	dev := iio.NewMockStream(testSampleSize)
	dev.FailBufferCreation(errors.New("no kernel buffer"))

	reader := NewReader(Config{
		ChannelMask: 0x3,
		Samples:     testSamples,
		QuitFd:      quitFd,
	}, zap.NewNop().Sugar(), WithStream(dev), WithQueue(queue))

	require.ErrorContains(t, reader.Run(), "failed to create sample buffer")

	// Acquired resources are unwound even on setup failure
	require.True(t, queue.TornDown())
}
