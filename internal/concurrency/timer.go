// File: internal/concurrency/timer.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// timerService holds delayed work items in a deadline-ordered min-heap and
// moves each one to the shared pool's ready queue once its deadline
// elapses. Items that fire within the same polling tick are drained into
// a fixed-capacity RingBuffer batch before being handed to the pool one at
// a time, so a burst of simultaneous deadlines does not hold the heap lock
// any longer than the single pop-until-late loop needs; the ring's bounded
// MPMC shape fits this single-producer/single-consumer-per-tick batch
// better than the ready queue's unbounded, long-lived FIFO.

package concurrency

import (
	"container/heap"
	"sync"
	"time"
)

// dueBatchCapacity bounds how many same-tick expirations the ring buffer
// holds before it is drained into the ready queue; a tick exceeding this
// drains early rather than blocking the heap lock on a full ring.
const dueBatchCapacity = 64

type timerEntry struct {
	item     Item
	work     int64
	deadline time.Time
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerPollInterval bounds how late a fired timer can be observed; the
// original C++ integration suite tolerates items firing up to ~1ms early
// but never meaningfully late, so this stays well under a millisecond.
const timerPollInterval = 250 * time.Microsecond

type timerService struct {
	pool *SharedPool

	mu   sync.Mutex
	heap timerHeap
	wake chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newTimerService(pool *SharedPool) *timerService {
	t := &timerService{
		pool:   pool,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	heap.Init(&t.heap)
	go t.run()
	return t
}

func (t *timerService) schedule(item Item, work int64, deadline time.Time) {
	t.mu.Lock()
	heap.Push(&t.heap, &timerEntry{item: item, work: work, deadline: deadline})
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *timerService) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heap.Len()
}

func (t *timerService) stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *timerService) run() {
	ticker := time.NewTicker(timerPollInterval)
	defer ticker.Stop()
	due := NewRingBuffer[*timerEntry](dueBatchCapacity)
	drain := func() {
		for {
			e, ok := due.Dequeue()
			if !ok {
				return
			}
			t.pool.pushReady(e.item, e.work)
		}
	}
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.wake:
		case <-ticker.C:
		}

		now := time.Now()
		t.mu.Lock()
		for t.heap.Len() > 0 && !t.heap[0].deadline.After(now) {
			e := heap.Pop(&t.heap).(*timerEntry)
			if !due.Enqueue(e) {
				// Ring is full: drain it now so no expired entry waits
				// behind a still-pending one, then retry the enqueue.
				t.mu.Unlock()
				drain()
				t.mu.Lock()
				due.Enqueue(e)
			}
		}
		t.mu.Unlock()

		drain()
	}
}
