//go:build linux
// +build linux

package iio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Buffer denotes a non-cyclic sample buffer backed by a device character
// node. It is owned by a single pipeline thread; Refill() and Push() block
// that thread until the hardware has transferred a full buffer
type Buffer struct {
	fd   int
	file *os.File
	data []byte

	disable func() error
}

// Fd returns the readiness file descriptor for reactor registration
func (b *Buffer) Fd() int {
	return b.fd
}

// Bytes returns the backing sample memory
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Refill reads one full buffer's worth of samples from the hardware,
// blocking until the transfer is complete. Returns the number of bytes read
func (b *Buffer) Refill() (int, error) {

	total := 0
	for total < len(b.data) {
		n, err := unix.Read(b.fd, b.data[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, fmt.Errorf("failed to refill sample buffer: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	return total, nil
}

// Push hands the buffer contents to the hardware, blocking until accepted.
// Returns the number of bytes actually transferred (a short count denotes a
// hardware underrun, escalation is left to the caller)
func (b *Buffer) Push() (int, error) {

	n, err := unix.Write(b.fd, b.data)
	if err != nil {
		return 0, fmt.Errorf("failed to push sample buffer: %w", err)
	}

	return n, nil
}

// Destroy disables the hardware ring and closes the device node
func (b *Buffer) Destroy() error {

	closeErr := b.file.Close()
	if b.disable != nil {
		if err := b.disable(); err != nil {
			return err
		}
	}

	return closeErr
}
