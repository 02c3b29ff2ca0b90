// File: internal/concurrency/pool_test.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeItem is a minimal Item used to drive the shared pool in isolation
// from dynpool's group/work-item semantics.
type fakeItem struct {
	mu        sync.Mutex
	remaining int
	runs      int32
	cancelled atomic.Bool
	onRun     func(work int64)
	finalized chan struct{}
	finalErr  error
	finalCanc bool
}

func newFakeItem(units int) *fakeItem {
	return &fakeItem{remaining: units, finalized: make(chan struct{})}
}

func (f *fakeItem) Advance() (int64, time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, 0, true
	}
	f.remaining--
	return int64(f.remaining), 0, false
}

func (f *fakeItem) Run(work int64) error {
	atomic.AddInt32(&f.runs, 1)
	if f.onRun != nil {
		f.onRun(work)
	}
	return nil
}

func (f *fakeItem) Finalize(cancelled bool, err error) {
	f.finalCanc = cancelled
	f.finalErr = err
	close(f.finalized)
}

func (f *fakeItem) Cancelled() bool    { return f.cancelled.Load() }
func (f *fakeItem) Identity() any      { return f }
func (f *fakeItem) NestingLevel() int  { return 1 }

func (f *fakeItem) waitFinalized(t *testing.T) {
	t.Helper()
	select {
	case <-f.finalized:
	case <-time.After(5 * time.Second):
		t.Fatalf("item was never finalized")
	}
}

func TestSharedPoolRunsItemToCompletion(t *testing.T) {
	p := newSharedPool(4)
	defer p.Close()

	it := newFakeItem(3)
	work, delay, retire := it.Advance()
	if retire {
		t.Fatalf("item should not retire immediately")
	}
	p.Enroll(it, work, delay)
	it.waitFinalized(t)

	if atomic.LoadInt32(&it.runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", it.runs)
	}
	if it.finalCanc {
		t.Fatalf("item should finalize uncancelled")
	}
}

func TestSharedPoolScalesWorkersUnderLoad(t *testing.T) {
	p := newSharedPool(8)
	defer p.Close()

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		it := newFakeItem(1)
		it.onRun = func(int64) {
			cur := atomic.AddInt32(&concurrent, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
		}
		go func(it *fakeItem) {
			defer wg.Done()
			work, delay, _ := it.Advance()
			p.Enroll(it, work, delay)
			it.waitFinalized(t)
		}(it)
	}
	wg.Wait()

	if atomic.LoadInt32(&maxConcurrent) < 2 {
		t.Fatalf("expected pool to scale beyond one worker, saw max concurrency %d", maxConcurrent)
	}
}

func TestSharedPoolCooperateDrainsReadyQueueWhileWaiting(t *testing.T) {
	p := newSharedPool(1)
	defer p.Close()

	var sideRan atomic.Bool
	side := newFakeItem(1)
	side.onRun = func(int64) { sideRan.Store(true) }

	blocker := make(chan struct{})
	outer := newFakeItem(1)
	outer.onRun = func(int64) {
		work, delay, _ := side.Advance()
		p.Enroll(side, work, delay)
		stop := make(chan struct{})
		go func() {
			side.waitFinalized(t)
			close(stop)
		}()
		p.Cooperate(stop)
		close(blocker)
	}

	work, delay, _ := outer.Advance()
	p.Enroll(outer, work, delay)

	select {
	case <-blocker:
	case <-time.After(5 * time.Second):
		t.Fatalf("cooperative wait never observed side item completion")
	}
	if !sideRan.Load() {
		t.Fatalf("side item never ran during cooperative wait")
	}
}
