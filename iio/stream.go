package iio

// Stream denotes the streaming-device surface consumed by the data
// pipelines. It is implemented by Device and by MockStream for hardware-free
// testing
type Stream interface {

	// DisableAllChannels disables every scan element of the device
	DisableAllChannels() error

	// EnableChannels enables exactly the scan elements selected by the
	// provided index bitmask
	EnableChannels(mask uint32) error

	// SampleSize returns the byte stride of one sample across all enabled
	// scan elements
	SampleSize() (int, error)

	// CreateBuffer allocates a non-cyclic sample buffer holding the provided
	// number of samples
	CreateBuffer(samples uint32) (SampleBuffer, error)
}

// SampleBuffer denotes a hardware sample buffer of a single direction
type SampleBuffer interface {

	// Fd returns the readiness file descriptor for reactor registration
	Fd() int

	// Bytes returns the backing sample memory
	Bytes() []byte

	// Refill reads one full buffer from the hardware (blocking)
	Refill() (int, error)

	// Push hands the buffer contents to the hardware (blocking), returning
	// the number of bytes actually transferred
	Push() (int, error)

	// Destroy tears down the hardware ring and releases the buffer
	Destroy() error
}
