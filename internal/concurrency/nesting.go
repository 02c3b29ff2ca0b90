// File: internal/concurrency/nesting.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine-local nesting tracker. Go has no thread_local storage, so the
// dynamic-thread-pool-group's static current_nesting_level()/current_work_item()
// observers are implemented on top of gls, which threads a value map through
// the call stack of the goroutine that calls SetValues and any goroutine it
// spawns via gls.Go. The pool pushes a level/item pair around every Run
// invocation so code running inside a work item's run() can observe its own
// depth and identity without any parameter threading.

package concurrency

import "github.com/jtolds/gls"

var nestingMgr = gls.NewContextManager()

const (
	nestingKeyLevel = "dynpool.nesting.level"
	nestingKeyItem  = "dynpool.nesting.item"
)

// RunNested executes fn with level and item visible to CurrentNestingLevel
// and CurrentItem for fn's entire call stack, including anything fn calls
// transitively on the same goroutine.
func RunNested(level int, item any, fn func() error) error {
	var err error
	nestingMgr.SetValues(gls.Values{nestingKeyLevel: level, nestingKeyItem: item}, func() {
		err = fn()
	})
	return err
}

// CurrentNestingLevel returns the nesting depth of the call stack the
// caller is running on. It is 0 outside of any work item's run().
func CurrentNestingLevel() int {
	if v, ok := nestingMgr.GetValue(nestingKeyLevel); ok {
		if lvl, ok2 := v.(int); ok2 {
			return lvl
		}
	}
	return 0
}

// CurrentItem returns the opaque handle of the work item whose run() is
// executing on the caller's call stack, or nil outside of any run().
func CurrentItem() any {
	v, ok := nestingMgr.GetValue(nestingKeyItem)
	if !ok {
		return nil
	}
	return v
}
