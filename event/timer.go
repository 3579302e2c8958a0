//go:build linux
// +build linux

package event

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer denotes a periodic timerfd suitable for registration with a Reactor
// (used for statistics reporting, not required for pipeline liveness)
type Timer int

// NewTimer instantiates a new periodic timer firing at the provided interval
func NewTimer(period time.Duration) (Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create timer file descriptor: %w", err)
	}

	interval := unix.NsecToTimespec(period.Nanoseconds())
	spec := unix.ItimerSpec{
		Interval: interval,
		Value:    interval,
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("failed to arm timer file descriptor: %w", err)
	}

	return Timer(fd), nil
}

// Fd returns the underlying file descriptor for reactor registration
func (t Timer) Fd() int {
	return int(t)
}

// Ack consumes the pending expiration count, resetting the timer readiness
func (t Timer) Ack() error {
	var buf [8]byte
	if _, err := unix.Read(int(t), buf[:]); err != nil {
		return fmt.Errorf("failed to acknowledge timer: %w", err)
	}

	return nil
}

// Close closes the timer file descriptor
func (t Timer) Close() error {
	return unix.Close(int(t))
}
