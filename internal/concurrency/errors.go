// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the concurrency engine (shared pool, timer service).

package concurrency

import "errors"

var (
	// ErrPoolClosed indicates the shared pool has been torn down.
	ErrPoolClosed = errors.New("shared pool is closed")

	// ErrInvalidWorkerCount indicates invalid worker count configuration.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform.
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")

	// ErrNUMANotAvailable indicates NUMA topology information is not available.
	ErrNUMANotAvailable = errors.New("NUMA not available")
)
