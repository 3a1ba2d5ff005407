package runtime

import (
	"context"
	"time"

	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Timer is a scheduled callback. Repeating timers are rescheduled after
// each firing.
type Timer struct {
	callback func()
	deadline time.Time
	interval time.Duration
	id       uint64
	repeat   bool
	active   bool
}

// ID returns the timer id.
func (t *Timer) ID() uint64 { return t.id }

// Deadline returns the next firing time.
func (t *Timer) Deadline() (time.Time, bool) { return t.deadline, true }

// AsyncHandle reports that a timer has no host handle.
func (*Timer) AsyncHandle() (hostcall.AsyncHandle, bool) { return 0, false }

// Active reports whether the timer is still scheduled.
func (t *Timer) Active() bool { return t.active }

type pending struct {
	task    Task
	onReady func()
}

// Loop owns the task queue and the sorted timer list of a Context.
type Loop struct {
	ctx     *Context
	queue   []func()
	pending []pending
	timers  []*Timer
	nextID  uint64
}

func newLoop(ctx *Context) *Loop {
	return &Loop{ctx: ctx}
}

// Enqueue schedules fn to run on the next turn.
func (l *Loop) Enqueue(fn func()) {
	l.queue = append(l.queue, fn)
}

// Await runs onReady once task becomes ready. Each task fires once.
func (l *Loop) Await(task Task, onReady func()) {
	l.pending = append(l.pending, pending{task: task, onReady: onReady})
}

// AddTimer schedules fn after delay. With repeat set it fires every delay
// until removed.
func (l *Loop) AddTimer(delay time.Duration, repeat bool, fn func()) *Timer {
	if delay < 0 {
		delay = 0
	}
	l.nextID++
	t := &Timer{
		id:       l.nextID,
		callback: fn,
		deadline: l.ctx.clock.Now().Add(delay),
		interval: delay,
		repeat:   repeat,
	}
	l.insert(t)
	return t
}

// insert places t after every timer due at or before it, so equal
// deadlines fire in insertion order.
func (l *Loop) insert(t *Timer) {
	i := len(l.timers)
	for j, other := range l.timers {
		if other.deadline.After(t.deadline) {
			i = j
			break
		}
	}
	l.timers = append(l.timers, nil)
	copy(l.timers[i+1:], l.timers[i:])
	l.timers[i] = t
	t.active = true
}

// RemoveTimer unschedules t. It is a no-op for a timer that already fired
// or was removed.
func (l *Loop) RemoveTimer(t *Timer) bool {
	if t == nil || !t.active {
		return false
	}
	for i, other := range l.timers {
		if other == t {
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			t.active = false
			return true
		}
	}
	return false
}

// Timers returns the number of scheduled timers.
func (l *Loop) Timers() int { return len(l.timers) }

// Idle reports whether there is nothing left to run.
func (l *Loop) Idle() bool {
	return len(l.queue) == 0 && len(l.pending) == 0 && len(l.timers) == 0
}

// Run drives the loop until it is idle or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.ctx.Require(PhaseServe); err != nil {
		return err
	}
	for !l.Idle() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.turn(); err != nil {
			return err
		}
	}
	return nil
}

// turn drains the queue, then waits for one pending task or the soonest
// timer.
func (l *Loop) turn() error {
	for len(l.queue) > 0 {
		q := l.queue
		l.queue = nil
		for _, fn := range q {
			fn()
		}
	}
	if len(l.pending) == 0 && len(l.timers) == 0 {
		return nil
	}

	tasks := make([]Task, 0, len(l.pending)+1)
	for _, p := range l.pending {
		tasks = append(tasks, p.task)
	}
	if len(l.timers) > 0 {
		tasks = append(tasks, l.timers[0])
	}

	i, err := l.ctx.Select(tasks)
	if err != nil {
		return err
	}
	if i < len(l.pending) {
		p := l.pending[i]
		l.pending = append(l.pending[:i], l.pending[i+1:]...)
		p.onReady()
		return nil
	}

	t := l.timers[0]
	l.timers = l.timers[1:]
	t.active = false
	if t.repeat {
		t.deadline = t.deadline.Add(t.interval)
		if now := l.ctx.clock.Now(); t.deadline.Before(now) {
			t.deadline = now
		}
		l.insert(t)
	}
	l.ctx.logger.Debug("timer fired", zap.Uint64("id", t.id))
	t.callback()
	return nil
}

func (l *Loop) reset() {
	for _, t := range l.timers {
		t.active = false
	}
	l.queue = nil
	l.pending = nil
	l.timers = nil
}
