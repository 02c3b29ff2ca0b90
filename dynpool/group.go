// File: dynpool/group.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Group is the user-facing lifecycle envelope over a batch of WorkItems.
// It enrolls items onto the process-wide shared pool (internal/concurrency),
// tracks how many remain active, and arbitrates stop/wait/stopping/stopped
// exactly as the dynamic-thread-pool-group state machine requires:
// idle -> running -> stopping -> stopped, with natural completion going
// running -> stopped directly and re-entry into running by a later
// Submit permitted from either idle or stopped.

package dynpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/dynpool/api"
	"github.com/momentics/dynpool/internal/concurrency"
)

var (
	poolOnce sync.Once
	poolRef  *concurrency.SharedPool

	enrollmentPool = concurrency.NewSyncPool(func() *enrollment { return &enrollment{} })
)

// pool returns the process-wide shared pool, applying the current
// Config's NUMA pinning the first time it is constructed.
func pool() *concurrency.SharedPool {
	poolOnce.Do(func() {
		poolRef = concurrency.Shared()
		// The default NUMANode (-1, disabled) never fails validation; an
		// explicit invalid node configured before first use is caught by
		// Configure's own return value instead of panicking here.
		_ = poolRef.SetNUMANode(currentConfig().NUMANode)
	})
	return poolRef
}

// Group is a set of enrolled work items sharing a lifecycle.
type Group struct {
	mu    sync.Mutex
	state api.GroupState

	stopReq atomic.Bool
	poolErr error // first unrecoverable pool-level error, if any

	level    int
	maxDepth int

	active atomic.Int64
	doneCh chan struct{}
}

// NewGroup constructs an idle group. Its nesting level is fixed now, from
// the constructing goroutine's current nesting level: a group built from
// outside any Run sits at level 1 once it starts running items; one
// built from within a level-i Run sits at level i+1. Exceeding the
// configured nesting cap fails construction with ErrResourceExhausted.
func NewGroup(opts ...GroupOption) (*Group, error) {
	o := groupOptions{maxNestingDepth: currentConfig().MaxNestingDepth}
	for _, opt := range opts {
		opt(&o)
	}
	level := concurrency.CurrentNestingLevel() + 1
	if level > o.maxNestingDepth {
		return nil, api.ErrResourceExhausted
	}
	groupsCreated.Add(1)
	reportMetrics()
	return &Group{
		state:    api.GroupIdle,
		level:    level,
		maxDepth: o.maxNestingDepth,
		doneCh:   closedChan(),
	}, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Submit enrolls items atomically: either every item is bound to this
// group and made ready, or (on a double-submit precondition failure)
// none are. An item that a concurrent Submit binds to another group
// between that check and this call's own binding is skipped, and Submit
// still returns nil. Items become ready in submission order; the pool is free to
// execute them in any order thereafter.
func (g *Group) Submit(items ...WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	g.mu.Lock()
	if g.state == api.GroupStopping {
		g.mu.Unlock()
		return api.ErrInvalidArgument
	}
	for _, it := range items {
		if bb, ok := it.(groupBinder); ok && bb.boundGroup() != nil {
			g.mu.Unlock()
			return api.ErrInvalidArgument
		}
	}
	if g.state == api.GroupIdle || g.state == api.GroupStopped {
		// Re-entering running from idle or stopped: this is a fresh
		// batch, so a new completion gate replaces the old (already
		// closed) one.
		g.doneCh = make(chan struct{})
		g.stopReq.Store(false)
		g.poolErr = nil
	}
	g.state = api.GroupRunning
	g.mu.Unlock()

	for _, it := range items {
		if bb, ok := it.(groupBinder); ok {
			if !bb.bindGroup(g) {
				// Raced with another Submit binding the same item first;
				// that Submit owns it, so it is skipped here.
				continue
			}
		}
		g.active.Add(1)
		e := enrollmentPool.Get()
		e.group, e.item = g, it
		e.done.Store(false)
		e.within.Store(false)
		var d Deadline
		work := it.Next(&d)
		if work == Retire {
			e.finalize(false, nil)
			continue
		}
		pool().Enroll(e, work, d.Delay())
	}
	return nil
}

// Stop idempotently requests cancellation. Items currently mid-Run
// complete naturally; the pool calls no further Next for this group's
// remaining items, delivering GroupComplete(cancelled) instead.
func (g *Group) Stop() error {
	g.stopReq.Store(true)
	g.mu.Lock()
	if g.state == api.GroupRunning {
		g.state = api.GroupStopping
	}
	g.mu.Unlock()
	return nil
}

// Wait blocks until the group reaches state stopped, or an optional
// deadline elapses. When called from within a Run on a worker goroutine,
// it cooperatively re-enters the shared pool's dispatch loop instead of
// blocking the worker, so other ready items keep making progress.
func (g *Group) Wait(deadline ...time.Time) error {
	g.mu.Lock()
	done := g.doneCh
	g.mu.Unlock()

	stop := (<-chan struct{})(done)
	var timedOut atomic.Bool
	if len(deadline) > 0 && !deadline[0].IsZero() {
		timer := time.NewTimer(time.Until(deadline[0]))
		defer timer.Stop()
		merged := make(chan struct{})
		go func() {
			select {
			case <-done:
			case <-timer.C:
				timedOut.Store(true)
			}
			close(merged)
		}()
		stop = merged
	}

	if concurrency.CurrentNestingLevel() > 0 {
		pool().Cooperate(stop)
	} else {
		<-stop
	}

	if timedOut.Load() {
		return api.ErrOperationTimeout
	}

	g.mu.Lock()
	err := g.poolErr
	cancelled := g.stopReq.Load()
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if cancelled {
		return api.ErrCancelled
	}
	return nil
}

var _ api.GracefulShutdown = (*Group)(nil)

// Shutdown is a convenience alias for Stop() followed by Wait(), matching
// the teacher's convention that long-lived components expose
// api.GracefulShutdown. A group that stops cleanly reports nil here even
// though a bare Wait() after Stop() would return ErrCancelled: that error
// is the expected outcome of a requested shutdown, not a failure of it.
func (g *Group) Shutdown() error {
	if err := g.Stop(); err != nil {
		return err
	}
	if err := g.Wait(); err != nil && err != api.ErrCancelled {
		return err
	}
	return nil
}

// Stopping reports whether Stop has been called but the group has not
// yet finished draining its enrolled items.
func (g *Group) Stopping() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == api.GroupStopping
}

// Stopped reports whether the group is quiescent: either never
// submitted (idle) or fully drained after running (stopped).
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == api.GroupIdle || g.state == api.GroupStopped
}

// State exposes the raw lifecycle state for diagnostics.
func (g *Group) State() api.GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Group) isStopping() bool {
	return g.stopReq.Load()
}

// failPool records the first pool-level (as opposed to per-item run)
// error and transitions the group to stopping with cause
// unrecoverable-error, per the spec's failure semantics for scheduling
// errors such as an enqueue failure.
func (g *Group) failPool(err error) {
	g.stopReq.Store(true)
	g.mu.Lock()
	if g.poolErr == nil {
		g.poolErr = err
	}
	if g.state == api.GroupRunning {
		g.state = api.GroupStopping
	}
	g.mu.Unlock()
}

// retireOne is called once per enrolled item when it finalizes. The
// group transitions to stopped and wakes waiters exactly when the last
// active item retires.
func (g *Group) retireOne() {
	if g.active.Add(-1) != 0 {
		return
	}
	g.mu.Lock()
	if g.state == api.GroupRunning || g.state == api.GroupStopping {
		g.state = api.GroupStopped
	}
	done := g.doneCh
	g.mu.Unlock()
	groupsCompleted.Add(1)
	reportMetrics()
	close(done)
}

var _ concurrency.Item = (*enrollment)(nil)

// enrollment adapts a user WorkItem to the shared pool's Item contract.
// within guards the spec's "at most one of next/run/group_complete active"
// invariant: the pool never calls Advance/Run/Finalize concurrently for
// the same enrolled item, but enter/leave catch a violation immediately
// rather than let it corrupt state silently.
type enrollment struct {
	group  *Group
	item   WorkItem
	done   atomic.Bool
	within atomic.Bool
}

func (e *enrollment) enter() {
	if !e.within.CompareAndSwap(false, true) {
		panic("dynpool: reentrant next/run/group_complete call on the same work item")
	}
}

func (e *enrollment) leave() {
	e.within.Store(false)
}

func (e *enrollment) Advance() (int64, time.Duration, bool) {
	e.enter()
	defer e.leave()
	var d Deadline
	work := e.item.Next(&d)
	if work == Retire {
		return 0, 0, true
	}
	return work, d.Delay(), false
}

func (e *enrollment) Run(work int64) error {
	e.enter()
	defer e.leave()
	return e.item.Run(work)
}

func (e *enrollment) Cancelled() bool { return e.group.isStopping() }
func (e *enrollment) Identity() any   { return e.item }
func (e *enrollment) NestingLevel() int {
	return e.group.level
}

func (e *enrollment) Finalize(cancelled bool, runErr error) {
	e.finalize(cancelled, runErr)
}

func (e *enrollment) finalize(cancelled bool, runErr error) {
	if !e.done.CompareAndSwap(false, true) {
		return
	}
	if bb, ok := e.item.(groupBinder); ok {
		bb.unbindGroup()
	}
	e.enter()
	e.item.GroupComplete(GroupResult{Cancelled: cancelled, Err: runErr})
	e.leave()
	e.group.retireOne()
	e.item, e.group = nil, nil
	enrollmentPool.Put(e)
}
