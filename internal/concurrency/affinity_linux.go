//go:build linux

// File: internal/concurrency/affinity_linux.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func pinCurrentThread(numaNode, workerID int) error {
	ncpu := runtime.NumCPU()
	if ncpu == 0 {
		return ErrAffinityNotSupported
	}
	runtime.LockOSThread()
	cpu := workerID % ncpu
	if numaNode > 0 {
		cpu = (numaNode*ncpu/8 + workerID) % ncpu
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(unix.Gettid(), &set); err != nil {
		return ErrAffinityNotSupported
	}
	return nil
}

func unpinCurrentThread() error {
	ncpu := runtime.NumCPU()
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < ncpu; i++ {
		set.Set(i)
	}
	if err := unix.SchedSetaffinity(unix.Gettid(), &set); err != nil {
		return ErrAffinityNotSupported
	}
	runtime.UnlockOSThread()
	return nil
}
