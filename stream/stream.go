//go:build linux
// +build linux

/*
Package stream implements the bidirectional data pipelines between an
Industrial I/O streaming device and the bulk endpoints of a USB FunctionFS
gadget function.

A Reader moves samples from the hardware to the USB host: it refills a
hardware sample buffer, copies the frame into a free transfer buffer drawn
from a fixed pool and submits it as an asynchronous bulk IN write. If the
host does not keep up and the pool runs dry, the newest frame is dropped and
counted as a pool overflow.

A Writer moves samples from the USB host to the hardware: it keeps the full
pool submitted as asynchronous bulk OUT reads at all times and pushes each
completed frame to the hardware, resubmitting the transfer buffer right
away. Short hardware pushes are counted as underruns.

Both pipelines are single-threaded reactors. All descriptors (cancellation
event, sample buffer readiness, transfer completions, statistics timer) are
served from one event loop, so no pipeline state requires locking. The
Supervisor owns the per-direction lifecycle and translates vendor control
requests received on the control endpoint into pipeline starts and stops.
*/
package stream

import (
	"time"

	"github.com/fako1024/sdrgadget/aio"
	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/iio"
)

const (

	// DefaultBuffers denotes the default per-pipeline transfer buffer pool
	// size
	DefaultBuffers = 16

	// DefaultRXDevice / DefaultTXDevice denote the streaming device names of
	// the AD9361 reference design
	DefaultRXDevice = "cf-ad9361-lpc"
	DefaultTXDevice = "cf-ad9361-dds-core-lpc"

	// WaitTimeout denotes the upper bound for a single event loop pass (of
	// the pipelines and of the control loop alike). Purely a liveness bound
	// for periodic work, not a transfer timeout
	WaitTimeout = 30 * time.Second
)

// Direction denotes the orientation of a data pipeline (relative to the
// radio hardware)
type Direction int

const (

	// DirectionRX denotes the receive pipeline (hardware to USB host)
	DirectionRX Direction = iota

	// DirectionTX denotes the transmit pipeline (USB host to hardware)
	DirectionTX

	numDirections
)

// String returns a human-readable direction name
func (d Direction) String() string {
	if d == DirectionTX {
		return "TX"
	}
	return "RX"
}

// Config denotes the parameters of a single data pipeline
type Config struct {

	// Device denotes the name of the streaming device to attach to
	Device string

	// ChannelMask denotes the bitmask of scan element indices to enable
	ChannelMask uint32

	// Samples denotes the number of samples per transfer
	Samples uint32

	// QuitFd denotes the event file descriptor signalling pipeline
	// cancellation. It is owned (and reset) by the caller
	QuitFd event.EvtFileDescriptor

	// DataFd denotes the bulk endpoint file descriptor transfers are
	// submitted against
	DataFd int

	// Buffers denotes the transfer buffer pool size (DefaultBuffers if zero)
	Buffers int

	// StatsPeriod denotes the interval for periodic statistics logging
	// (disabled if zero)
	StatsPeriod time.Duration

	// Pin, if set, locks the pipeline to a dedicated OS thread on CPU and
	// requests real-time scheduling
	Pin bool
	CPU int
}

// Stats denotes the data path counters of a pipeline. They are updated from
// the pipeline thread and must only be read after Run() has returned
type Stats struct {

	// PoolOverflows counts frames dropped on the receive side because no
	// free transfer buffer was available
	PoolOverflows uint64

	// Underruns counts short sample pushes on the transmit side
	Underruns uint64
}

// Option denotes a functional option for a pipeline
type Option func(*pipeline)

// WithStream sets a pre-initialized streaming device, bypassing local
// device discovery (used to inject mock devices in testing)
func WithStream(dev iio.Stream) Option {
	return func(p *pipeline) {
		p.dev = dev
	}
}

// WithQueue sets a pre-initialized transfer queue, bypassing kernel AIO
// context setup (used to inject mock queues in testing)
func WithQueue(q aio.Queue) Option {
	return func(p *pipeline) {
		p.queue = q
	}
}
