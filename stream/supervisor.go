//go:build linux
// +build linux

package stream

import (
	"fmt"
	"time"

	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/ffs"
	"go.uber.org/zap"
)

// runFn denotes a blocking pipeline entry point
type runFn func(cfg Config) error

// slot tracks the lifecycle of one pipeline direction. The cancellation
// descriptor outlives individual pipeline runs and is reset after each join
type slot struct {
	quitFd  event.EvtFileDescriptor
	done    chan struct{}
	started bool
}

// Supervisor owns both data pipelines and drives their lifecycle from
// vendor control requests received on the gadget control endpoint. It is
// confined to the control thread
type Supervisor struct {
	log *zap.SugaredLogger

	inFd  int
	outFd int

	buffers     int
	statsPeriod time.Duration
	devices     [numDirections]string

	configured bool
	slots      [numDirections]slot
	run        [numDirections]runFn
}

// SupervisorOption denotes a functional option for a Supervisor
type SupervisorOption func(*Supervisor)

// WithBuffers sets the per-pipeline transfer buffer pool size
func WithBuffers(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.buffers = n
	}
}

// WithStatsPeriod enables periodic pipeline statistics logging
func WithStatsPeriod(period time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.statsPeriod = period
	}
}

// WithDevices sets the streaming device names for both directions
func WithDevices(rx, tx string) SupervisorOption {
	return func(s *Supervisor) {
		s.devices[DirectionRX] = rx
		s.devices[DirectionTX] = tx
	}
}

// WithRunner replaces the pipeline entry point for the provided direction
// (used to inject instrumented pipelines in testing)
func WithRunner(dir Direction, run runFn) SupervisorOption {
	return func(s *Supervisor) {
		s.run[dir] = run
	}
}

// NewSupervisor instantiates a new pipeline supervisor on top of the
// provided gadget endpoints
func NewSupervisor(logger *zap.SugaredLogger, eps *ffs.Endpoints, opts ...SupervisorOption) (*Supervisor, error) {

	s := &Supervisor{
		log:     logger,
		inFd:    eps.In,
		outFd:   eps.Out,
		buffers: DefaultBuffers,
		devices: [numDirections]string{
			DirectionRX: DefaultRXDevice,
			DirectionTX: DefaultTXDevice,
		},
	}
	s.run[DirectionRX] = func(cfg Config) error {
		return NewReader(cfg, logger.Named("read")).Run()
	}
	s.run[DirectionTX] = func(cfg Config) error {
		return NewWriter(cfg, logger.Named("write")).Run()
	}

	for _, opt := range opts {
		opt(s)
	}

	for dir := DirectionRX; dir < numDirections; dir++ {
		quitFd, err := event.New()
		if err != nil {
			s.closeSlots(dir)
			return nil, fmt.Errorf("failed to create %s stop event: %w", dir, err)
		}
		s.slots[dir].quitFd = quitFd
	}

	return s, nil
}

// Start launches the pipeline for the provided direction. A pipeline
// already running in that direction is stopped first, so a repeated start
// acts as reconfiguration
func (s *Supervisor) Start(dir Direction, channelMask, samples uint32) error {

	if err := s.Stop(dir); err != nil {
		return err
	}

	sl := &s.slots[dir]
	cfg := Config{
		Device:      s.devices[dir],
		ChannelMask: channelMask,
		Samples:     samples,
		QuitFd:      sl.quitFd,
		DataFd:      s.inFd,
		Buffers:     s.buffers,
		StatsPeriod: s.statsPeriod,
		Pin:         true,
		CPU:         int(dir),
	}
	if dir == DirectionTX {
		cfg.DataFd = s.outFd
	}

	sl.done = make(chan struct{})
	run := s.run[dir]
	log := s.log
	done := sl.done

	go func() {
		defer close(done)
		if err := run(cfg); err != nil {
			log.Errorf("%s pipeline failed: %s", dir, err)
		}
	}()
	sl.started = true

	s.log.Debugf("started %s pipeline (channels: %#08x, samples: %d)", dir, channelMask, samples)

	return nil
}

// Stop cancels the pipeline for the provided direction and waits for it to
// wind down. Stopping a direction that was never started is a no-op
func (s *Supervisor) Stop(dir Direction) error {

	sl := &s.slots[dir]
	if !sl.started {
		return nil
	}

	if err := sl.quitFd.Signal(event.SignalQuit); err != nil {
		return fmt.Errorf("failed to signal %s pipeline stop: %w", dir, err)
	}
	<-sl.done

	// Reset the cancellation descriptor for the next run (the pipeline only
	// observes the signal, it never consumes it)
	if _, err := sl.quitFd.ReadEvent(); err != nil {
		return fmt.Errorf("failed to reset %s stop event: %w", dir, err)
	}
	sl.started = false

	s.log.Debugf("stopped %s pipeline", dir)

	return nil
}

// StopAll stops both pipelines, continuing on failure and returning the
// first error encountered
func (s *Supervisor) StopAll() error {

	var firstErr error
	for dir := DirectionRX; dir < numDirections; dir++ {
		if err := s.Stop(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Running reports whether the pipeline for the provided direction has been
// started (and not yet stopped)
func (s *Supervisor) Running(dir Direction) bool {
	return s.slots[dir].started
}

// Close stops all pipelines and releases the cancellation descriptors
func (s *Supervisor) Close() error {

	err := s.StopAll()
	s.closeSlots(numDirections)

	return err
}

func (s *Supervisor) closeSlots(upTo Direction) {
	for dir := DirectionRX; dir < upTo; dir++ {
		if closeErr := s.slots[dir].quitFd.Close(); closeErr != nil {
			s.log.Errorf("failed to close %s stop event: %s", dir, closeErr)
		}
	}
}
