// File: internal/concurrency/pool.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SharedPool is the single process-wide elastic worker pool that every
// dynpool.Group multiplexes its enrolled work items onto. It owns no
// notion of "group" or "work item" semantics: callers enroll anything
// satisfying Item, and the pool drives it to completion through the
// three-call Advance/Run/Finalize protocol. Workers scale between 1 and
// a configured cap in response to sustained ready-queue pressure, mirroring
// the resize-with-confirmation pattern this package has always used for
// safe dynamic scaling, generalized from a fixed TaskFunc executor to an
// arbitrary work-item dispatcher shared across every enrolled group.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/dynpool/api"
)

// Item is the engine-level contract the shared pool drives. A dynpool
// enrollment wraps each user work item in a type satisfying this
// interface; the pool itself knows nothing about groups.
type Item interface {
	// Advance requests the next work value to run. retire reports that
	// the item has no further work and should leave the pool; delay, when
	// positive, asks the pool to re-enqueue the item no earlier than now+delay.
	Advance() (work int64, delay time.Duration, retire bool)

	// Run executes work on the calling worker goroutine.
	Run(work int64) error

	// Finalize is called exactly once when the item leaves the pool,
	// whether by retirement or by cancellation.
	Finalize(cancelled bool, runErr error)

	// Cancelled reports whether the item's owning group has already
	// been asked to stop.
	Cancelled() bool

	// Identity returns the user-facing handle exposed to nesting
	// observers (CurrentItem). May be any comparable/opaque value.
	Identity() any

	// NestingLevel returns the depth CurrentNestingLevel() should report
	// while this item's Run is executing.
	NestingLevel() int
}

type readyTask struct {
	item Item
	work int64
}

const (
	// dispatchPollInterval bounds the liveness latency of the wake
	// broadcast: a missed broadcast is recovered within this interval.
	dispatchPollInterval = time.Millisecond

	// idleWorkerThreshold is how long a spawned worker waits with an
	// empty ready queue before offering to retire.
	idleWorkerThreshold = 30 * time.Second

	// defaultWorkerCapMultiplier bounds how many workers the pool may
	// spawn relative to runtime.NumCPU().
	defaultWorkerCapMultiplier = 4
)

// SharedPool is the elastic, process-wide work-item dispatcher.
type SharedPool struct {
	mu     sync.Mutex
	ready  *queue.Queue
	wakeCh chan struct{}

	timers *timerService

	minWorkers int
	capacity   int
	numaNode   int
	workers    int
	generation uint64

	enrolled atomic.Int64
	retired  atomic.Int64

	closed    bool
	shutdown  chan struct{}
	startedAt time.Time
}

var (
	sharedOnce sync.Once
	shared     *SharedPool
)

// Shared returns the process-wide singleton pool, constructing it (and
// its timer service) on first use.
func Shared() *SharedPool {
	sharedOnce.Do(func() {
		shared = newSharedPool(runtime.NumCPU() * defaultWorkerCapMultiplier)
	})
	return shared
}

func newSharedPool(capacity int) *SharedPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &SharedPool{
		ready:      queue.New(),
		wakeCh:     make(chan struct{}),
		minWorkers: 1,
		capacity:   capacity,
		numaNode:   -1,
		shutdown:   make(chan struct{}),
		startedAt:  time.Now(),
	}
	p.timers = newTimerService(p)
	return p
}

// Enroll admits an item into the pool with its first work value already
// known (work, delay resolved via an initial Advance call by the caller).
func (p *SharedPool) Enroll(it Item, work int64, delay time.Duration) {
	p.enrolled.Add(1)
	if delay > 0 {
		p.timers.schedule(it, work, time.Now().Add(delay))
		return
	}
	p.pushReady(it, work)
}

// SetNUMANode configures the NUMA node newly spawned workers should pin
// to. A negative value (the default) disables pinning entirely. Pinning
// to a specific node (node >= 0) is validated against the host's
// reported NUMA topology; ErrNUMANotAvailable propagates rather than
// silently pinning against a node the host cannot place.
func (p *SharedPool) SetNUMANode(node int) error {
	if node >= 0 {
		count, err := NUMANodeCount()
		if err != nil {
			return err
		}
		if node >= count {
			return ErrNUMANotAvailable
		}
	}
	p.mu.Lock()
	p.numaNode = node
	p.mu.Unlock()
	return nil
}

// SetCapacity rebounds the maximum number of workers the pool may spawn.
// multiplier must be positive; it is applied against runtime.NumCPU() the
// same way the default capacity is derived in newSharedPool.
func (p *SharedPool) SetCapacity(multiplier int) error {
	if multiplier <= 0 {
		return ErrInvalidWorkerCount
	}
	capacity := runtime.NumCPU() * multiplier
	if capacity < 1 {
		capacity = 1
	}
	p.mu.Lock()
	p.capacity = capacity
	p.mu.Unlock()
	return nil
}

// PoolSnapshot is a point-in-time view of pool occupancy.
type PoolSnapshot struct {
	Workers    int
	ReadyLen   int
	TimerLen   int
	Generation uint64
	Enrolled   int64
	Retired    int64
	StartedAt  time.Time
}

// Stats reports a point-in-time snapshot of pool occupancy.
func (p *SharedPool) Stats() PoolSnapshot {
	p.mu.Lock()
	s := PoolSnapshot{
		Workers:    p.workers,
		ReadyLen:   p.ready.Length(),
		Generation: p.generation,
		StartedAt:  p.startedAt,
	}
	p.mu.Unlock()
	s.TimerLen = p.timers.len()
	s.Enrolled = p.enrolled.Load()
	s.Retired = p.retired.Load()
	return s
}

// ReadyIdentities returns a point-in-time batch of the Identity() of every
// item currently sitting in the ready queue, for debug-probe consumption;
// it holds the pool lock only while copying, so producers and consumers
// of the queue wait for at most that copy.
func (p *SharedPool) ReadyIdentities() api.Batch[any] {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.ready.Length()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = p.ready.Get(i).(readyTask).item.Identity()
	}
	return newSliceBatch(out)
}

func (p *SharedPool) pushReady(it Item, work int64) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		it.Finalize(true, ErrPoolClosed)
		return
	}
	p.ready.Add(readyTask{item: it, work: work})
	readyLen := p.ready.Length()
	p.maybeSpawnLocked(readyLen)
	p.mu.Unlock()
	p.broadcastWake()
}

func (p *SharedPool) maybeSpawnLocked(readyLen int) {
	if p.workers >= p.capacity {
		return
	}
	if readyLen <= p.workers {
		return
	}
	p.workers++
	p.generation++
	gen := p.generation
	go p.workerLoop(gen)
}

func (p *SharedPool) broadcastWake() {
	p.mu.Lock()
	old := p.wakeCh
	p.wakeCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

func (p *SharedPool) waitChan() <-chan struct{} {
	p.mu.Lock()
	ch := p.wakeCh
	p.mu.Unlock()
	return ch
}

func (p *SharedPool) tryPop() (readyTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready.Length() == 0 {
		return readyTask{}, false
	}
	rt := p.ready.Peek().(readyTask)
	p.ready.Remove()
	return rt, true
}

// workerLoop is a persistent top-level pool worker: it retires itself
// after sitting idle past idleWorkerThreshold, as long as doing so keeps
// the pool at or above minWorkers.
func (p *SharedPool) workerLoop(gen uint64) {
	var affinity *WorkerAffinity
	if p.numaNode >= 0 {
		affinity = NewWorkerAffinity(p.numaNode, int(gen))
		_ = affinity.Pin(int(gen), p.numaNode)
		defer affinity.Unpin()
	}
	var idleSince time.Time
	for {
		if rt, ok := p.tryPop(); ok {
			idleSince = time.Time{}
			p.execute(rt)
			continue
		}
		select {
		case <-p.shutdown:
			p.retireWorkerLocked()
			return
		case <-p.waitChan():
			idleSince = time.Time{}
		case <-time.After(dispatchPollInterval):
			if idleSince.IsZero() {
				idleSince = time.Now()
				continue
			}
			if time.Since(idleSince) > idleWorkerThreshold {
				if p.tryRetire(gen) {
					return
				}
				idleSince = time.Time{}
			}
		}
	}
}

func (p *SharedPool) tryRetire(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers <= p.minWorkers {
		return false
	}
	_ = gen // reserved for spawn/retire diagnostics, see PoolStats.LastGeneration
	p.workers--
	return true
}

func (p *SharedPool) retireWorkerLocked() {
	p.mu.Lock()
	if p.workers > 0 {
		p.workers--
	}
	p.mu.Unlock()
}

// Cooperate re-enters the pool's dispatch loop on the calling goroutine
// until stop fires. A work item's run() that blocks on a nested group's
// wait() calls this instead of sleeping, so the goroutine keeps draining
// the shared ready queue rather than holding a worker hostage.
func (p *SharedPool) Cooperate(stop <-chan struct{}) {
	for {
		if rt, ok := p.tryPop(); ok {
			p.execute(rt)
			continue
		}
		select {
		case <-stop:
			return
		case <-p.waitChan():
		case <-time.After(dispatchPollInterval):
		}
	}
}

// execute dequeues-then-runs a single ready item, mirroring the worker
// loop in the order the pool promises: run always fires for a dequeued
// item, and the group's stop flag is consulted only afterward to decide
// between advancing to the next work value or finalizing as cancelled.
// In-flight runs are never aborted; only the next advance is skipped.
func (p *SharedPool) execute(rt readyTask) {
	err := RunNested(rt.item.NestingLevel(), rt.item.Identity(), func() error {
		return rt.item.Run(rt.work)
	})
	if rt.item.Cancelled() {
		p.retired.Add(1)
		rt.item.Finalize(true, err)
		return
	}
	work, delay, retire := rt.item.Advance()
	if retire {
		p.retired.Add(1)
		rt.item.Finalize(false, err)
		return
	}
	if delay > 0 {
		p.timers.schedule(rt.item, work, time.Now().Add(delay))
		return
	}
	p.pushReady(rt.item, work)
}

// Close tears the pool down, waking every idle worker so it can observe
// shutdown and exit. Enrolled-but-undispatched items are finalized as
// cancelled. Tests use this to obtain a private pool instance; the
// process-wide singleton is never closed during normal operation.
func (p *SharedPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.shutdown)
	var drained []readyTask
	for p.ready.Length() > 0 {
		drained = append(drained, p.ready.Peek().(readyTask))
		p.ready.Remove()
	}
	p.mu.Unlock()
	p.timers.stop()
	p.timers.mu.Lock()
	for _, e := range p.timers.heap {
		drained = append(drained, readyTask{item: e.item, work: e.work})
	}
	p.timers.heap = nil
	p.timers.mu.Unlock()
	p.broadcastWake()
	for _, rt := range drained {
		rt.item.Finalize(true, ErrPoolClosed)
	}
}
