// File: dynpool/nesting.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dynpool

import "github.com/momentics/dynpool/internal/concurrency"

// CurrentNestingLevel returns the nesting depth of the call stack the
// caller is running on: 0 outside any work item's Run, or the owning
// group's level while inside one.
func CurrentNestingLevel() int {
	return concurrency.CurrentNestingLevel()
}

// CurrentWorkItem returns the work item whose Run is executing on the
// caller's call stack, or nil outside of any Run.
func CurrentWorkItem() WorkItem {
	v := concurrency.CurrentItem()
	if v == nil {
		return nil
	}
	wi, _ := v.(WorkItem)
	return wi
}
