//go:build linux
// +build linux

package stream

import (
	"fmt"
	"time"

	"github.com/fako1024/sdrgadget/aio"
	"go.uber.org/zap"
)

// Writer denotes the transmit pipeline, moving sample data from the USB
// host to the hardware via asynchronous bulk OUT transfers
type Writer struct {
	pipeline
}

// NewWriter instantiates a new transmit pipeline (resource acquisition is
// deferred to Run())
func NewWriter(cfg Config, logger *zap.SugaredLogger, opts ...Option) *Writer {

	w := &Writer{
		pipeline: pipeline{
			cfg: cfg,
			log: logger,
		},
	}
	for _, opt := range opts {
		opt(&w.pipeline)
	}

	return w
}

// Run executes the pipeline until cancellation is signalled on the
// configured event file descriptor or an unrecoverable error occurs. All
// resources are released before it returns
func (w *Writer) Run() error {

	defer w.teardown()

	w.pin()
	if err := w.setup(aio.OpRead); err != nil {
		return err
	}

	if err := w.reactor.Register(int(w.queue.CompletionFd()), w.onCompletion); err != nil {
		return fmt.Errorf("failed to register transfer completions: %w", err)
	}

	// The full pool is submitted up front and kept in flight by
	// resubmission, so host data is accepted as soon as it arrives
	n := w.buffers()
	w.bufs = make([]*aio.TransferBuffer, n)
	for i := 0; i < n; i++ {
		w.bufs[i] = w.queue.Alloc(w.transferSize)
	}
	if _, err := w.queue.Submit(w.bufs...); err != nil {
		return fmt.Errorf("failed to submit bulk OUT transfers: %w", err)
	}

	if err := w.startStatsTimer(w.onStatsTick); err != nil {
		return err
	}

	w.log.Debug("entering write loop")
	err := w.loop()
	w.log.Debug("exiting write loop")

	return err
}

// onCompletion pushes the payload of each completed bulk OUT transfer to
// the hardware and resubmits its buffer. A short push indicates a hardware
// underrun and is not fatal, the frame is counted and dropped
func (w *Writer) onCompletion() error {

	if _, err := w.queue.CompletionFd().ReadEvent(); err != nil {
		return fmt.Errorf("failed to reset completion event: %w", err)
	}

	comps, err := w.queue.Drain(len(w.bufs))
	if err != nil {
		return fmt.Errorf("failed to drain transfer completions: %w", err)
	}

	for _, comp := range comps {
		if int(comp.Res) == w.transferSize {

			w.markPeriod()
			start := time.Now()

			copy(w.smpBuf.Bytes(), comp.Buf.Data)
			n, err := w.smpBuf.Push()
			w.markDuration(start)

			if err != nil || n != w.transferSize {
				w.stats.Underruns++
				if err != nil {
					w.log.Debugf("failed to push sample buffer: %s", err)
				}
			}
		} else if !comp.Shutdown() {
			w.log.Warnf("bulk OUT transfer failed (res: %d, res2: %d)", comp.Res, comp.Res2)
		}

		// Recycling is by resubmission in all cases, even after an endpoint
		// shutdown (the request simply completes shut down again until the
		// pipeline is stopped)
		if _, err := w.queue.Submit(comp.Buf); err != nil {
			return fmt.Errorf("failed to resubmit bulk OUT transfer: %w", err)
		}
	}

	return nil
}

func (w *Writer) onStatsTick() error {

	if err := w.timer.Ack(); err != nil {
		return err
	}

	w.log.Infof("write period: %s", &w.periodStats)
	w.log.Infof("write duration: %s", &w.durStats)
	if w.stats.Underruns > 0 {
		w.log.Warnf("write underruns: %d", w.stats.Underruns)
	}

	w.periodStats.reset()
	w.durStats.reset()

	return nil
}
