package erl

import (
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Window is a rate averaging window.
type Window time.Duration

const (
	Window1s  = Window(time.Second)
	Window10s = Window(10 * time.Second)
	Window60s = Window(60 * time.Second)
)

func (w Window) validate() error {
	switch w {
	case Window1s, Window10s, Window60s:
		return nil
	}
	return errors.InvalidInput("window", "must be 1s, 10s or 60s, got %s", time.Duration(w))
}

const (
	MinPenaltyTTL = time.Minute
	MaxPenaltyTTL = time.Hour
)

func validateTTL(ttl time.Duration) error {
	if ttl < MinPenaltyTTL || ttl > MaxPenaltyTTL {
		return errors.InvalidInput("ttl", "must be between %s and %s, got %s", MinPenaltyTTL, MaxPenaltyTTL, ttl)
	}
	return nil
}

func validateEntry(entry string) error {
	if entry == "" {
		return errors.InvalidInput("entry", "entry is empty")
	}
	return nil
}

func validateName(field, name string) error {
	if name == "" {
		return errors.InvalidInput(field, "name is empty")
	}
	return nil
}

// RateCounter counts events per entry.
type RateCounter struct {
	host hostcall.ERL
	name string
}

// NewRateCounter opens the rate counter called name.
func NewRateCounter(host hostcall.ERL, name string) (*RateCounter, error) {
	if err := validateName("ratecounter", name); err != nil {
		return nil, err
	}
	return &RateCounter{host: host, name: name}, nil
}

// Name returns the counter name.
func (rc *RateCounter) Name() string { return rc.name }

// Increment adds delta events for entry.
func (rc *RateCounter) Increment(entry string, delta uint32) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return rc.host.RatecounterIncrement(rc.name, entry, delta)
}

// LookupRate returns the per-second rate of entry averaged over window.
func (rc *RateCounter) LookupRate(entry string, window Window) (uint32, error) {
	if err := validateEntry(entry); err != nil {
		return 0, err
	}
	if err := window.validate(); err != nil {
		return 0, err
	}
	return rc.host.RatecounterLookupRate(rc.name, entry, time.Duration(window)).Get()
}

// LookupCount returns the events of entry over the last d, a multiple of
// ten seconds up to a minute.
func (rc *RateCounter) LookupCount(entry string, d time.Duration) (uint32, error) {
	if err := validateEntry(entry); err != nil {
		return 0, err
	}
	if d < 10*time.Second || d > time.Minute || d%(10*time.Second) != 0 {
		return 0, errors.InvalidInput("duration", "must be a multiple of 10s up to 60s, got %s", d)
	}
	return rc.host.RatecounterLookupCount(rc.name, entry, d).Get()
}

// PenaltyBox holds entries that exceeded a rate for a while.
type PenaltyBox struct {
	host hostcall.ERL
	name string
}

// NewPenaltyBox opens the penalty box called name.
func NewPenaltyBox(host hostcall.ERL, name string) (*PenaltyBox, error) {
	if err := validateName("penaltybox", name); err != nil {
		return nil, err
	}
	return &PenaltyBox{host: host, name: name}, nil
}

// Name returns the penalty box name.
func (pb *PenaltyBox) Name() string { return pb.name }

// Add boxes entry for ttl.
func (pb *PenaltyBox) Add(entry string, ttl time.Duration) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	return pb.host.PenaltyboxAdd(pb.name, entry, ttl)
}

// Has reports whether entry is boxed.
func (pb *PenaltyBox) Has(entry string) (bool, error) {
	if err := validateEntry(entry); err != nil {
		return false, err
	}
	return pb.host.PenaltyboxHas(pb.name, entry).Get()
}

// Limiter checks entries against a rate limit and boxes offenders.
type Limiter struct {
	Counter *RateCounter
	Box     *PenaltyBox
	Window  Window
	// Limit is the allowed events per second.
	Limit uint32
	// TTL is how long an offender stays boxed.
	TTL time.Duration
}

// CheckRate counts delta events for entry and reports whether entry is
// blocked, either already boxed or now over the limit.
func (l *Limiter) CheckRate(entry string, delta uint32) (bool, error) {
	if l.Counter == nil || l.Box == nil {
		return false, errors.InvalidInput("limiter", "counter and penalty box are required")
	}
	if err := validateEntry(entry); err != nil {
		return false, err
	}
	if err := l.Window.validate(); err != nil {
		return false, err
	}
	if err := validateTTL(l.TTL); err != nil {
		return false, err
	}
	if l.Limit == 0 {
		return false, errors.InvalidInput("limit", "must be positive")
	}
	return l.Counter.host.CheckRate(l.Counter.name, entry, delta, time.Duration(l.Window), l.Limit, l.Box.name, l.TTL).Get()
}
