// File: internal/ioaware/sampler.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-device I/O telemetry sampling for the dynamic-thread-pool-group's
// I/O-aware variant. A Handle names a backing device or file; Sampler
// reports the maximum observed busy fraction and queue depth across every
// whole disk the host reports. Handles are not mapped to their backing
// devices: the disks sampled are the same whatever handles are passed, as
// long as there is at least one. Platforms lacking the underlying
// telemetry (anything but Linux, here) report ErrNotSupported at
// construction, mirroring the upstream behavior of failing
// io_aware_work_item construction rather than silently reporting zeros.

package ioaware

import "errors"

// ErrNotSupported indicates the platform exposes no per-device busy/queue
// telemetry this sampler can use.
var ErrNotSupported = errors.New("io-aware telemetry not supported on this platform")

// Handle names a backing device or file an I/O-aware work item reads
// from or writes to.
type Handle struct {
	Path string
}

type platformSampler interface {
	sample() (busy float64, queueDepth int)
}

// Sampler reports a rolling estimate of backing-device saturation.
type Sampler struct {
	impl platformSampler
}

// NewSampler constructs a sampler over the given handles, or returns
// ErrNotSupported if the platform cannot provide busy/queue telemetry.
func NewSampler(handles []Handle) (*Sampler, error) {
	if len(handles) == 0 {
		return nil, errors.New("io-aware sampler requires at least one handle")
	}
	impl, err := newPlatformSampler(handles)
	if err != nil {
		return nil, err
	}
	return &Sampler{impl: impl}, nil
}

// Sample returns the current max busy fraction (0..1) and max queue
// depth observed across the host's whole disks.
func (s *Sampler) Sample() (busy float64, queueDepth int) {
	return s.impl.sample()
}
