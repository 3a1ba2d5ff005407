// Package runtime holds the explicit execution state of a guest: the host
// readiness primitive, a clock, the execution phase and an event loop.
//
// # Select
//
// Context.Select multiplexes host async handles and deadlines on one thread:
//
//	i, err := rc.Select([]runtime.Task{pendingReq, body, runtime.DeadlineTask(t)})
//
// Host handles are passed to the host's blocking select with a timeout
// rounded up to whole milliseconds from the soonest deadline. A deadline
// that already passed turns the call into a non-blocking readiness sweep.
// The host may wake early; Select re-reads the clock and waits again.
//
// # Event loop
//
// Loop owns a task queue, single-shot awaited tasks and a timer list sorted
// by deadline. Timers with equal deadlines fire in insertion order.
//
// # Phases
//
// A Context starts in PhaseInitialize, where host IO is unavailable, and
// moves to PhaseServe once. Operations restricted to a phase call Require.
package runtime
