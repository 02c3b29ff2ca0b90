// File: internal/concurrency/objpool.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"github.com/momentics/dynpool/api"
)

// SyncPool is a sync.Pool-backed api.ObjectPool[T], used to recycle the
// small per-item bookkeeping structs the pool allocates on every
// enrollment rather than leaning on the allocator under steady load.
type SyncPool[T any] struct {
	pool sync.Pool
}

var _ api.ObjectPool[any] = (*SyncPool[any])(nil)

// NewSyncPool builds a pool whose Get falls back to newFn on an empty pool.
func NewSyncPool[T any](newFn func() T) *SyncPool[T] {
	p := &SyncPool[T]{}
	p.pool.New = func() any { return newFn() }
	return p
}

func (p *SyncPool[T]) Get() T    { return p.pool.Get().(T) }
func (p *SyncPool[T]) Put(obj T) { p.pool.Put(obj) }
