package aio

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var (
	_ Queue = (*Engine)(nil)
	_ Queue = (*MockEngine)(nil)
)

func TestControlBlockLayout(t *testing.T) {

	// Kernel ABI struct sizes, c.f. linux/aio_abi.h
	require.Equal(t, uintptr(64), unsafe.Sizeof(iocb{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(ioEvent{}))
}

func TestMockSubmitComplete(t *testing.T) {

	q, err := NewMockEngine()
	require.Nil(t, err)

	buf := q.Alloc(16)
	require.Len(t, buf.Data, 16)
	require.False(t, buf.InUse())

	n, err := q.Submit(buf)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.True(t, buf.InUse())
	require.Equal(t, 1, q.Pending())

	require.Nil(t, q.Complete(16))
	require.Equal(t, 0, q.Pending())

	// The completion signal must be pending on the event file descriptor
	_, err = q.CompletionFd().ReadEvent()
	require.Nil(t, err)

	comps, err := q.Drain(16)
	require.Nil(t, err)
	require.Len(t, comps, 1)
	require.Equal(t, buf, comps[0].Buf)
	require.Equal(t, int64(16), comps[0].Res)
	require.False(t, buf.InUse())

	require.Nil(t, q.Teardown())
}

func TestMockCompleteData(t *testing.T) {

	q, err := NewMockEngine()
	require.Nil(t, err)
	defer q.Teardown()

	buf := q.Alloc(8)
	_, err = q.Submit(buf)
	require.Nil(t, err)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.Nil(t, q.CompleteData(payload))
	require.Equal(t, payload, buf.Data)

	comps, err := q.Drain(1)
	require.Nil(t, err)
	require.Len(t, comps, 1)
	require.Equal(t, int64(8), comps[0].Res)
}

func TestMockSubmitShortfall(t *testing.T) {

	q, err := NewMockEngine()
	require.Nil(t, err)
	defer q.Teardown()

	bufs := []*TransferBuffer{q.Alloc(4), q.Alloc(4), q.Alloc(4)}

	q.SetAcceptLimit(2)
	n, err := q.Submit(bufs...)
	require.ErrorIs(t, err, ErrSubmitShortfall)
	require.Equal(t, 2, n)
	require.True(t, bufs[0].InUse())
	require.True(t, bufs[1].InUse())
	require.False(t, bufs[2].InUse())
}

func TestMockDrainBatches(t *testing.T) {

	q, err := NewMockEngine()
	require.Nil(t, err)
	defer q.Teardown()

	for i := 0; i < 4; i++ {
		_, err := q.Submit(q.Alloc(4))
		require.Nil(t, err)
		require.Nil(t, q.Complete(4))
	}

	comps, err := q.Drain(3)
	require.Nil(t, err)
	require.Len(t, comps, 3)

	comps, err = q.Drain(3)
	require.Nil(t, err)
	require.Len(t, comps, 1)
}

func TestMockEarlyFreeDetection(t *testing.T) {

	q, err := NewMockEngine()
	require.Nil(t, err)

	buf := q.Alloc(4)
	buf.Release()

	require.Nil(t, q.Teardown())
	require.True(t, q.BufferFreedBeforeTeardown())
}

func TestEngineSubmitNone(t *testing.T) {

	var fds [2]int
	require.Nil(t, unix.Pipe(fds[:]))
	defer func() {
		require.Nil(t, unix.Close(fds[0]))
		require.Nil(t, unix.Close(fds[1]))
	}()

	e, err := NewEngine(fds[1], OpWrite, 4)
	if err != nil {
		t.Skipf("cannot set up AIO context: %s", err)
	}

	// An empty batch is a no-op, not a kernel submission
	n, err := e.Submit()
	require.Nil(t, err)
	require.Zero(t, n)

	require.Nil(t, e.Teardown())
}

func TestShutdownResult(t *testing.T) {

	c := Completion{Res: -int64(unix.ESHUTDOWN)}
	require.True(t, c.Shutdown())

	c = Completion{Res: 512}
	require.False(t, c.Shutdown())

	c = Completion{Res: -int64(unix.EIO)}
	require.False(t, c.Shutdown())
}
