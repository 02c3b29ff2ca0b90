// File: internal/concurrency/affinity.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable CPU-affinity surface. Pinning a worker is an optional pacing
// aid for the shared pool's NUMA-aware deployments; platform-specific
// implementations live in the _linux/_windows/_other files, all built
// on golang.org/x/sys rather than cgo.

package concurrency

import "github.com/momentics/dynpool/api"

// WorkerAffinity adapts a single worker's CPU pin to api.Affinity, so the
// pool's NUMA pinning can be driven through the library's generic affinity
// contract instead of calling the package funcs directly.
type WorkerAffinity struct {
	numaNode, workerID int
	pinned             bool
}

var _ api.Affinity = (*WorkerAffinity)(nil)

// NewWorkerAffinity returns an unpinned handle for workerID under numaNode.
func NewWorkerAffinity(numaNode, workerID int) *WorkerAffinity {
	return &WorkerAffinity{numaNode: numaNode, workerID: workerID}
}

func (w *WorkerAffinity) Pin(cpuID, numaID int) error {
	if err := pinCurrentThread(numaID, cpuID); err != nil {
		return err
	}
	w.numaNode, w.workerID, w.pinned = numaID, cpuID, true
	return nil
}

func (w *WorkerAffinity) Unpin() error {
	if !w.pinned {
		return nil
	}
	w.pinned = false
	return unpinCurrentThread()
}

func (w *WorkerAffinity) Get() (cpuID int, numaID int, err error) {
	if !w.pinned {
		return -1, -1, api.ErrNotSupported
	}
	return w.workerID, w.numaNode, nil
}
