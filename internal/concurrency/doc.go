// Package concurrency implements the engine beneath dynpool: a lock-free
// MPMC ring buffer, a deadline-ordered timer service, a goroutine-local
// nesting tracker, and the SharedPool that elastically dispatches any
// enrolled Item across a bounded set of worker goroutines. Nothing in
// this package knows what a "group" or a "work item" is; dynpool supplies
// those semantics by wrapping user types in something satisfying Item.
package concurrency
