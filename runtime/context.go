package runtime

import (
	"sync/atomic"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Phase is the execution mode of a runtime.
type Phase uint32

const (
	// PhaseInitialize runs once while the guest snapshot is being built.
	// Host IO is not available.
	PhaseInitialize Phase = iota
	// PhaseServe handles requests.
	PhaseServe
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialize:
		return "initialize"
	case PhaseServe:
		return "serve"
	default:
		return "unknown"
	}
}

// Clock is the time source of a Context.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Context is the explicit state of one guest execution: host access, the
// clock, the execution phase and the event loop. It is not safe for
// concurrent use; one guest drives one Context.
type Context struct {
	host   hostcall.AsyncIO
	clock  Clock
	logger *zap.Logger
	abort  func(error)
	loop   *Loop
	phase  atomic.Uint32
	closed bool
}

// Option configures a Context.
type Option func(*Context)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(ctx *Context) { ctx.clock = c }
}

// WithLogger sets the context logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctx *Context) { ctx.logger = l }
}

// WithAbort replaces the handler for fatal invariant violations. The
// default logs at fatal level, which exits the process.
func WithAbort(fn func(error)) Option {
	return func(ctx *Context) { ctx.abort = fn }
}

// WithPhase sets the starting phase.
func WithPhase(p Phase) Option {
	return func(ctx *Context) { ctx.phase.Store(uint32(p)) }
}

// NewContext creates a context in PhaseInitialize.
func NewContext(host hostcall.AsyncIO, opts ...Option) *Context {
	c := &Context{
		host:  host,
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = Logger()
	}
	if c.abort == nil {
		c.abort = func(err error) {
			c.logger.Fatal("runtime invariant violated", zap.Error(err))
		}
	}
	c.loop = newLoop(c)
	return c
}

// Host returns the readiness primitive.
func (c *Context) Host() hostcall.AsyncIO { return c.host }

// Clock returns the time source.
func (c *Context) Clock() Clock { return c.clock }

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Loop returns the event loop.
func (c *Context) Loop() *Loop { return c.loop }

// Phase returns the current execution phase.
func (c *Context) Phase() Phase { return Phase(c.phase.Load()) }

// Serve moves the context from initialization to serving. It fails if the
// context already serves.
func (c *Context) Serve() error {
	if !c.phase.CompareAndSwap(uint32(PhaseInitialize), uint32(PhaseServe)) {
		return errors.InvalidState(errors.PhaseRuntime, "context already serving")
	}
	c.logger.Debug("runtime entered serve phase")
	return nil
}

// Require fails unless the context is in phase p. Operations restricted to
// one phase call it before doing anything else.
func (c *Context) Require(p Phase) error {
	if c.closed {
		return errors.InvalidState(errors.PhaseRuntime, "context closed")
	}
	if cur := c.Phase(); cur != p {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidState).
			Value(cur.String()).
			Detail("operation requires %s phase, context is in %s", p, cur).
			Build()
	}
	return nil
}

// Close drops queued work and timers. Later phase checks fail.
func (c *Context) Close() {
	c.loop.reset()
	c.closed = true
}

func (c *Context) fatal(err error) {
	c.abort(err)
}
