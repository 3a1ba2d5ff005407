package runtime

import (
	"math"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Task is anything Select can wait on: a host async handle, or a deadline.
type Task interface {
	AsyncHandle() (hostcall.AsyncHandle, bool)
	Deadline() (time.Time, bool)
}

// HandleTask waits on a host async handle.
type HandleTask hostcall.AsyncHandle

func (h HandleTask) AsyncHandle() (hostcall.AsyncHandle, bool) { return hostcall.AsyncHandle(h), true }
func (HandleTask) Deadline() (time.Time, bool)                  { return time.Time{}, false }

// DeadlineTask fires at a point in time.
type DeadlineTask time.Time

func (DeadlineTask) AsyncHandle() (hostcall.AsyncHandle, bool) { return 0, false }
func (d DeadlineTask) Deadline() (time.Time, bool)             { return time.Time(d), true }

// Select blocks until one task is ready and returns its index in tasks.
//
// Host-handle tasks go to the host readiness primitive; deadline tasks are
// folded into its timeout. With no host handles Select just sleeps until the
// soonest deadline. An error from the host on a handle the runtime holds is
// an invariant violation and goes to the abort hook.
func (c *Context) Select(tasks []Task) (int, error) {
	if err := c.Require(PhaseServe); err != nil {
		return -1, err
	}
	if len(tasks) == 0 {
		return -1, errors.InvalidInput("tasks", "select needs at least one task")
	}

	handles := make([]hostcall.AsyncHandle, 0, len(tasks))
	index := make([]int, 0, len(tasks))
	timer := -1
	var deadline time.Time

	for i, t := range tasks {
		if h, ok := t.AsyncHandle(); ok {
			handles = append(handles, h)
			index = append(index, i)
			continue
		}
		d, ok := t.Deadline()
		if !ok {
			return -1, errors.InvalidInput("tasks", "task %d has neither a handle nor a deadline", i)
		}
		if timer < 0 || d.Before(deadline) {
			timer = i
			deadline = d
		}
	}

	if len(handles) == 0 {
		if wait := deadline.Sub(c.clock.Now()); wait > 0 {
			c.clock.Sleep(wait)
		}
		return timer, nil
	}

	for {
		var timeout uint32
		if timer >= 0 {
			wait := deadline.Sub(c.clock.Now())
			if wait <= 0 {
				return c.sweep(handles, index, timer)
			}
			timeout = timeoutMillis(wait)
		}

		r := c.host.AsyncSelect(handles, timeout)
		if r.IsErr() {
			err := errors.Wrap(errors.PhaseSelect, errors.KindGeneric, r.Err(), "host select failed")
			c.fatal(err)
			return -1, err
		}
		ready := r.Unwrap()
		if ready != hostcall.NoReadyIndex {
			if int(ready) >= len(handles) {
				err := errors.New(errors.PhaseSelect, errors.KindGeneric).
					Value(ready).
					Detail("host reported index %d of %d handles", ready, len(handles)).
					Build()
				c.fatal(err)
				return -1, err
			}
			return index[ready], nil
		}
		if timer >= 0 && !c.clock.Now().Before(deadline) {
			return timer, nil
		}
		c.logger.Debug("host select woke early")
	}
}

// sweep polls every handle without blocking; the timer fires if none is
// ready.
func (c *Context) sweep(handles []hostcall.AsyncHandle, index []int, timer int) (int, error) {
	for j, h := range handles {
		r := c.host.AsyncIsReady(h)
		if r.IsErr() {
			err := errors.Wrap(errors.PhaseSelect, errors.KindGeneric, r.Err(), "host readiness check failed")
			c.fatal(err)
			return -1, err
		}
		if r.Unwrap() {
			return index[j], nil
		}
	}
	return timer, nil
}

// timeoutMillis rounds d up to whole milliseconds. The result is never 0,
// which the host reads as "no timeout".
func timeoutMillis(d time.Duration) uint32 {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		return 1
	}
	if ms > math.MaxUint32-1 {
		return math.MaxUint32 - 1
	}
	return uint32(ms)
}
