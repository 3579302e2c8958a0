//go:build linux
// +build linux

package stream

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const rtPriority = 10

type schedParam struct {
	priority int32
}

// pin locks the pipeline to a dedicated OS thread and, if requested, binds
// it to the configured CPU with real-time scheduling. Both are best effort,
// failures are expected on unprivileged or single-core systems and only
// logged. The thread lock is never released, the runtime discards the
// thread when the pipeline goroutine exits
func (p *pipeline) pin() {

	if !p.cfg.Pin {
		return
	}

	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(p.cfg.CPU)
	if err := unix.SchedSetaffinity(0, &cpuSet); err != nil {
		p.log.Debugf("failed to set CPU affinity to %d: %s", p.cfg.CPU, err)
	}

	param := schedParam{priority: rtPriority}

	// #nosec: G103
	if _, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param))); errno != 0 {
		p.log.Debugf("failed to enable real-time scheduling: %s", errno)
	}
}
