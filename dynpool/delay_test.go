// File: dynpool/delay_test.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dynpool

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

// delayItem fires once after a random short delay, recording how far its
// actual firing time diverged from the requested deadline. This is a
// time-scaled-down rendering of the random-delay scenario: the original
// suite samples delays up to 8.6s over a 10s run; this samples delays up
// to ~60ms over roughly a second so the test suite stays fast.
type delayItem struct {
	WorkItemBase
	delay   time.Duration
	ran     bool
	fired   chan time.Time
	wantAt  time.Time
}

func (d *delayItem) Next(dl *Deadline) int64 {
	if d.ran {
		return Retire
	}
	dl.At = time.Now().Add(d.delay)
	d.wantAt = dl.At
	return 1
}

func (d *delayItem) Run(work int64) error {
	d.ran = true
	d.fired <- time.Now()
	return nil
}

func (d *delayItem) GroupComplete(GroupResult) {}

func TestDelayedItemsFireNearTheirDeadline(t *testing.T) {
	g, err := NewGroup()
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	const n = 50
	rng := rand.New(rand.NewSource(42))

	items := make([]WorkItem, n)
	raw := make([]*delayItem, n)
	for i := 0; i < n; i++ {
		d := time.Duration(rng.Int63n(int64(60 * time.Millisecond)))
		it := &delayItem{delay: d, fired: make(chan time.Time, 1)}
		items[i] = it
		raw[i] = it
	}
	if err := g.Submit(items...); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var over20ms int32
	var within1ms int32
	for _, it := range raw {
		select {
		case firedAt := <-it.fired:
			delta := firedAt.Sub(it.wantAt)
			// The pool tolerates items firing up to ~1ms early as timer
			// resolution jitter, but never meaningfully late.
			if delta < -time.Millisecond {
				t.Fatalf("item fired %v before its deadline", -delta)
			}
			if delta > 20*time.Millisecond {
				atomic.AddInt32(&over20ms, 1)
			}
			if delta < time.Millisecond && delta > -time.Millisecond {
				atomic.AddInt32(&within1ms, 1)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("item never fired")
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if over20ms >= n/2 {
		t.Fatalf("too many items (%d/%d) fired more than 20ms late", over20ms, n)
	}
}
