//go:build linux
// +build linux

package event

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Handler is invoked by the reactor whenever its registered file descriptor
// becomes readable. A non-nil return value aborts the current dispatch pass
// and is propagated to the caller of Wait(), which must treat it as fatal to
// the owning loop
type Handler func() error

// Reactor denotes a single-threaded epoll(7) based event loop. File
// descriptors are registered together with a handler; one call to Wait()
// performs a single wait-and-dispatch pass. The reactor itself never retries
// failed handlers, retry policy belongs to the outer loop
type Reactor struct {
	epfd int

	fds      []int32
	handlers map[int32]Handler
	ready    []unix.EpollEvent
}

// NewReactor instantiates a new reactor
func NewReactor() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	return &Reactor{
		epfd:     epfd,
		handlers: make(map[int32]Handler),
	}, nil
}

// Register adds a file descriptor to the set of watched event sources,
// associating it with the provided handler
func (r *Reactor) Register(fd int, handler Handler) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("failed to register fd %d with epoll: %w", fd, err)
	}

	r.fds = append(r.fds, int32(fd))
	r.handlers[int32(fd)] = handler
	r.ready = append(r.ready, unix.EpollEvent{})

	return nil
}

// Wait performs one wait-and-dispatch pass, blocking for at most the provided
// timeout. A pass that times out without any ready event sources is a no-op
// success. Simultaneously ready sources are dispatched in registration order
// to keep passes deterministic
func (r *Reactor) Wait(timeout time.Duration) error {
	n, err := unix.EpollWait(r.epfd, r.ready, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll wait failed: %w", err)
	}
	if n == 0 {
		return nil
	}

	for _, fd := range r.fds {
		for i := 0; i < n; i++ {
			if r.ready[i].Fd != fd {
				continue
			}
			if err := r.handlers[fd](); err != nil {
				return err
			}
			break
		}
	}

	return nil
}

// Close releases the underlying epoll instance (registered file descriptors
// remain open and are owned by their respective creators)
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
