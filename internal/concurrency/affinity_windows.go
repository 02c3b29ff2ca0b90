//go:build windows

// File: internal/concurrency/affinity_windows.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows CPU affinity via SetThreadAffinityMask. NUMA topology is not
// queried on this platform; numaNode only perturbs the chosen CPU index.

package concurrency

import (
	"runtime"

	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThread      = modkernel32.NewProc("GetCurrentThread")
)

func pinCurrentThread(numaNode, workerID int) error {
	total := runtime.NumCPU()
	if total <= 0 || total > 64 {
		return ErrAffinityNotSupported
	}
	runtime.LockOSThread()
	cpu := workerID % total
	if numaNode > 0 {
		cpu = (numaNode*total/8 + workerID) % total
	}
	handle, _, _ := procGetCurrentThread.Call()
	mask := uintptr(1) << uint(cpu)
	old, _, callErr := procSetThreadAffinityMask.Call(handle, mask)
	if old == 0 {
		_ = callErr
		return ErrAffinityNotSupported
	}
	return nil
}

func unpinCurrentThread() error {
	total := runtime.NumCPU()
	if total <= 0 {
		total = 1
	}
	handle, _, _ := procGetCurrentThread.Call()
	mask := (uintptr(1) << uint(total)) - 1
	old, _, callErr := procSetThreadAffinityMask.Call(handle, mask)
	if old == 0 {
		_ = callErr
		return ErrAffinityNotSupported
	}
	runtime.UnlockOSThread()
	return nil
}
