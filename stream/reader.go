//go:build linux
// +build linux

package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/sdrgadget/aio"
	"github.com/fako1024/sdrgadget/ring"
	"go.uber.org/zap"
)

// Reader denotes the receive pipeline, moving sample data from the hardware
// to the USB host via asynchronous bulk IN transfers
type Reader struct {
	pipeline

	pool ring.Ring
	free []*aio.TransferBuffer
}

// NewReader instantiates a new receive pipeline (resource acquisition is
// deferred to Run())
func NewReader(cfg Config, logger *zap.SugaredLogger, opts ...Option) *Reader {

	r := &Reader{
		pipeline: pipeline{
			cfg: cfg,
			log: logger,
		},
	}
	for _, opt := range opts {
		opt(&r.pipeline)
	}

	return r
}

// Run executes the pipeline until cancellation is signalled on the
// configured event file descriptor or an unrecoverable error occurs. All
// resources are released before it returns
func (r *Reader) Run() error {

	defer r.teardown()

	r.pin()
	if err := r.setup(aio.OpWrite); err != nil {
		return err
	}

	// Completions are registered ahead of the sample source: when both are
	// ready in the same pass, draining first returns buffers to the pool
	// before the new frame looks for one
	if err := r.reactor.Register(int(r.queue.CompletionFd()), r.onCompletion); err != nil {
		return fmt.Errorf("failed to register transfer completions: %w", err)
	}
	if err := r.reactor.Register(r.smpBuf.Fd(), r.onSampleReady); err != nil {
		return fmt.Errorf("failed to register sample buffer: %w", err)
	}

	// All transfer buffers start out free and are handed to the host on
	// demand (newest data wins if the host falls behind)
	n := r.buffers()
	r.pool.Init(uint32(n))
	r.free = make([]*aio.TransferBuffer, n)
	r.bufs = make([]*aio.TransferBuffer, n)
	for i := 0; i < n; i++ {
		buf := r.queue.Alloc(r.transferSize)
		r.bufs[i] = buf
		r.free[r.pool.Put()] = buf
	}

	if err := r.startStatsTimer(r.onStatsTick); err != nil {
		return err
	}

	r.log.Debug("entering read loop")
	err := r.loop()
	r.log.Debug("exiting read loop")

	return err
}

// onSampleReady refills the sample buffer and submits the frame to the host
// in a free transfer buffer. A pool exhausted by the host is not fatal, the
// frame is dropped and counted. A short refill is not fatal either, the
// incomplete frame is discarded
func (r *Reader) onSampleReady() error {

	r.markPeriod()
	start := time.Now()

	n, err := r.smpBuf.Refill()
	if err != nil {
		return fmt.Errorf("failed to refill sample buffer: %w", err)
	}
	r.markDuration(start)

	if n != r.transferSize {
		r.log.Warnf("discarding short sample refill (want %d, have %d byte(s))", r.transferSize, n)
		return nil
	}

	idx := r.pool.Get()
	if idx == ring.NoIndex {
		r.stats.PoolOverflows++
		return nil
	}

	buf := r.free[idx]
	copy(buf.Data, r.smpBuf.Bytes()[:n])

	if _, err := r.queue.Submit(buf); err != nil {
		return fmt.Errorf("failed to submit bulk IN transfer: %w", err)
	}

	return nil
}

// onCompletion returns the transfer buffers of all available bulk IN
// completions to the free pool
func (r *Reader) onCompletion() error {

	if _, err := r.queue.CompletionFd().ReadEvent(); err != nil {
		return fmt.Errorf("failed to reset completion event: %w", err)
	}

	comps, err := r.queue.Drain(len(r.bufs))
	if err != nil {
		return fmt.Errorf("failed to drain transfer completions: %w", err)
	}

	for _, comp := range comps {
		if int(comp.Res) != r.transferSize && !comp.Shutdown() {
			r.log.Warnf("bulk IN transfer failed (res: %d, res2: %d)", comp.Res, comp.Res2)
		}
		idx := r.pool.Put()
		if idx == ring.NoIndex {
			return errors.New("free buffer pool full on transfer completion")
		}
		r.free[idx] = comp.Buf
	}

	return nil
}

func (r *Reader) onStatsTick() error {

	if err := r.timer.Ack(); err != nil {
		return err
	}

	r.log.Infof("read period: %s", &r.periodStats)
	r.log.Infof("read duration: %s", &r.durStats)
	if r.stats.PoolOverflows > 0 {
		r.log.Warnf("read overflows: %d", r.stats.PoolOverflows)
	}

	r.periodStats.reset()
	r.durStats.reset()

	return nil
}
