// File: internal/concurrency/batch.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "github.com/momentics/dynpool/api"

// sliceBatch is the minimal api.Batch[T] implementation: an immutable
// snapshot over a slice, handed out by diagnostics endpoints that need to
// expose "what's queued right now" without letting a caller mutate pool
// state through the returned value.
type sliceBatch[T any] struct {
	items []T
}

var _ api.Batch[any] = sliceBatch[any]{}

func newSliceBatch[T any](items []T) sliceBatch[T] {
	return sliceBatch[T]{items: items}
}

func (b sliceBatch[T]) Len() int    { return len(b.items) }
func (b sliceBatch[T]) Get(i int) T { return b.items[i] }
func (b sliceBatch[T]) Slice() []T  { return b.items }
