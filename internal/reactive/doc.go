// Package reactive provides observer-counted state containers.
//
// A Subscriber holds a value and counts its observers. The first observer
// starts the container's Lifecycle (for example, opening a backend
// subscription); when the last observer leaves, the lifecycle is stopped.
// Releases are deferred through a Scheduler so that an observer swap
// (detach then immediately re-attach) never tears the subscription down.
//
// Writable is the closure form: its start function returns the teardown to
// run when the last observer leaves.
//
// Two schedulers are provided. Grace defers by a short delay on a timer
// goroutine and is the default. Loop is a FIFO task loop whose Drain method
// flushes deferred work deterministically, which is what tests use.
package reactive
