//go:build linux
// +build linux

package stream

import (
	"fmt"
	"time"

	"github.com/fako1024/sdrgadget/aio"
	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/iio"
	"go.uber.org/zap"
)

// pipeline holds the state shared by both data path directions: the event
// loop, the streaming device / sample buffer pair, the asynchronous transfer
// queue and the statistics bookkeeping. All fields are confined to the
// pipeline thread
type pipeline struct {
	cfg Config
	log *zap.SugaredLogger

	reactor *event.Reactor
	dev     iio.Stream
	smpBuf  iio.SampleBuffer
	queue   aio.Queue
	bufs    []*aio.TransferBuffer

	transferSize int
	keepRunning  bool

	timer    event.Timer
	hasTimer bool

	stats       Stats
	statsOn     bool
	periodStats timeStats
	durStats    timeStats
	periodMark  time.Time
}

func (p *pipeline) buffers() int {
	if p.cfg.Buffers <= 0 {
		return DefaultBuffers
	}
	return p.cfg.Buffers
}

// setup acquires the event loop, cancellation source, streaming device,
// sample buffer and transfer queue (in that order). On failure the caller is
// expected to run teardown() to unwind whatever was already acquired
func (p *pipeline) setup(op aio.Op) error {

	var err error
	if p.reactor, err = event.NewReactor(); err != nil {
		return fmt.Errorf("failed to initialize event loop: %w", err)
	}

	// The cancellation source is registered first so a stop request takes
	// precedence over data events within a single loop pass
	if err = p.reactor.Register(int(p.cfg.QuitFd), p.onQuit); err != nil {
		return fmt.Errorf("failed to register stop event: %w", err)
	}

	if p.dev == nil {
		dev, err := iio.NewLocalContext().FindDevice(p.cfg.Device)
		if err != nil {
			return fmt.Errorf("failed to open streaming device %s: %w", p.cfg.Device, err)
		}
		p.dev = dev
	}

	if err = p.dev.DisableAllChannels(); err != nil {
		return fmt.Errorf("failed to reset channel selection: %w", err)
	}
	if err = p.dev.EnableChannels(p.cfg.ChannelMask); err != nil {
		return fmt.Errorf("failed to enable channels %#08x: %w", p.cfg.ChannelMask, err)
	}

	sampleSize, err := p.dev.SampleSize()
	if err != nil {
		return fmt.Errorf("failed to determine sample size: %w", err)
	}
	if p.smpBuf, err = p.dev.CreateBuffer(p.cfg.Samples); err != nil {
		return fmt.Errorf("failed to create sample buffer: %w", err)
	}

	p.transferSize = sampleSize * int(p.cfg.Samples)
	p.log.Debugf("sample size: %d byte(s), transfer size: %d byte(s)", sampleSize, p.transferSize)

	if p.queue == nil {
		if p.queue, err = aio.NewEngine(p.cfg.DataFd, op, p.buffers()); err != nil {
			return fmt.Errorf("failed to initialize transfer queue: %w", err)
		}
	}

	p.statsOn = p.cfg.StatsPeriod > 0

	return nil
}

// startStatsTimer arms the periodic statistics timer (if enabled)
func (p *pipeline) startStatsTimer(onTick event.Handler) error {

	if !p.statsOn {
		return nil
	}

	timer, err := event.NewTimer(p.cfg.StatsPeriod)
	if err != nil {
		return fmt.Errorf("failed to arm statistics timer: %w", err)
	}
	p.timer, p.hasTimer = timer, true

	return p.reactor.Register(timer.Fd(), onTick)
}

// loop runs event loop passes until cancellation is requested or a handler
// fails
func (p *pipeline) loop() error {

	p.keepRunning = true
	for p.keepRunning {
		if err := p.reactor.Wait(WaitTimeout); err != nil {
			return err
		}
	}

	return nil
}

// teardown unwinds all acquired resources in reverse order of acquisition.
// The transfer queue is destroyed before its buffers are released (they may
// still be referenced by in-flight requests up to that point) and before the
// sample buffer is destroyed
func (p *pipeline) teardown() {

	if p.queue != nil {
		if err := p.queue.Teardown(); err != nil {
			p.log.Errorf("failed to tear down transfer queue: %s", err)
		}
		for _, buf := range p.bufs {
			buf.Release()
		}
		p.bufs = nil
	}

	if p.smpBuf != nil {
		if err := p.smpBuf.Destroy(); err != nil {
			p.log.Errorf("failed to destroy sample buffer: %s", err)
		}
		p.smpBuf = nil
	}

	if p.hasTimer {
		if err := p.timer.Close(); err != nil {
			p.log.Errorf("failed to close statistics timer: %s", err)
		}
		p.hasTimer = false
	}

	if p.reactor != nil {
		if err := p.reactor.Close(); err != nil {
			p.log.Errorf("failed to close event loop: %s", err)
		}
		p.reactor = nil
	}
}

func (p *pipeline) onQuit() error {
	p.log.Debug("stop request received")
	p.keepRunning = false
	return nil
}

// markPeriod tracks the time between consecutive data events, markDuration
// the time spent inside the hardware interaction started at mark
func (p *pipeline) markPeriod() {
	if !p.statsOn {
		return
	}
	now := time.Now()
	if !p.periodMark.IsZero() {
		p.periodStats.update(now.Sub(p.periodMark))
	}
	p.periodMark = now
}

func (p *pipeline) markDuration(start time.Time) {
	if !p.statsOn {
		return
	}
	p.durStats.update(time.Since(start))
}

// Stats returns the data path counters. Only valid after Run() has returned
func (p *pipeline) Stats() Stats {
	return p.stats
}
