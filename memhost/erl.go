package memhost

import (
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const counterHistory = 60 * time.Second

type sample struct {
	at    time.Time
	delta uint32
}

// erlState keeps rate counters, their token buckets and penalty boxes.
type erlState struct {
	now      func() time.Time
	samples  map[string][]sample
	limiters map[string]*rate.Limiter
	boxes    map[string]map[string]time.Time
}

func newERLState(now func() time.Time) *erlState {
	return &erlState{
		now:      now,
		samples:  make(map[string][]sample),
		limiters: make(map[string]*rate.Limiter),
		boxes:    make(map[string]map[string]time.Time),
	}
}

func counterKey(rc, entry string) string {
	return rc + "\x00" + entry
}

func (s *erlState) increment(rc, entry string, delta uint32) {
	k := counterKey(rc, entry)
	now := s.now()
	cut := 0
	samples := s.samples[k]
	for cut < len(samples) && now.Sub(samples[cut].at) > counterHistory {
		cut++
	}
	s.samples[k] = append(samples[cut:], sample{at: now, delta: delta})
}

func (s *erlState) count(rc, entry string, d time.Duration) uint32 {
	now := s.now()
	var total uint32
	for _, sm := range s.samples[counterKey(rc, entry)] {
		if now.Sub(sm.at) <= d {
			total += sm.delta
		}
	}
	return total
}

func (s *erlState) boxed(pb, entry string) bool {
	exp, ok := s.boxes[pb][entry]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.boxes[pb], entry)
		return false
	}
	return true
}

func (s *erlState) box(pb, entry string, ttl time.Duration) {
	if s.boxes[pb] == nil {
		s.boxes[pb] = make(map[string]time.Time)
	}
	s.boxes[pb][entry] = s.now().Add(ttl)
}

// allow consumes delta tokens from the bucket of rc/entry, refilled at
// limit per second.
func (s *erlState) allow(rc, entry string, delta, limit uint32) bool {
	k := counterKey(rc, entry)
	lim, ok := s.limiters[k]
	if !ok || lim.Limit() != rate.Limit(limit) {
		lim = rate.NewLimiter(rate.Limit(limit), max(int(limit), 1))
		s.limiters[k] = lim
	}
	return lim.AllowN(s.now(), int(delta))
}

func validWindow(window time.Duration) error {
	switch window {
	case time.Second, 10 * time.Second, 60 * time.Second:
		return nil
	}
	return errors.InvalidArgument("rate window must be 1s, 10s or 60s, got %s", window)
}

func validCountDuration(d time.Duration) error {
	if d < 10*time.Second || d > 60*time.Second || d%(10*time.Second) != 0 {
		return errors.InvalidArgument("count duration must be a multiple of 10s up to 60s, got %s", d)
	}
	return nil
}

func validTTL(ttl time.Duration) error {
	if ttl < time.Minute || ttl > time.Hour {
		return errors.InvalidArgument("penalty box ttl must be between 1m and 1h, got %s", ttl)
	}
	return nil
}

func (h *Host) CheckRate(rc, entry string, delta uint32, window time.Duration, limit uint32, pb string, ttl time.Duration) hostcall.Result[bool] {
	if err := validWindow(window); err != nil {
		return hostcall.Fail[bool](err)
	}
	if err := validTTL(ttl); err != nil {
		return hostcall.Fail[bool](err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.erl.boxed(pb, entry) {
		return hostcall.Ok(true)
	}
	h.erl.increment(rc, entry, delta)
	if h.erl.allow(rc, entry, delta, limit) {
		return hostcall.Ok(false)
	}
	h.erl.box(pb, entry, ttl)
	h.metrics.limited(rc)
	h.logger.Debug("entry rate limited", zap.String("ratecounter", rc), zap.String("entry", entry))
	return hostcall.Ok(true)
}

func (h *Host) RatecounterIncrement(rc, entry string, delta uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.erl.increment(rc, entry, delta)
	return nil
}

func (h *Host) RatecounterLookupRate(rc, entry string, window time.Duration) hostcall.Result[uint32] {
	if err := validWindow(window); err != nil {
		return hostcall.Fail[uint32](err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostcall.Ok(h.erl.count(rc, entry, window) / uint32(window/time.Second))
}

func (h *Host) RatecounterLookupCount(rc, entry string, d time.Duration) hostcall.Result[uint32] {
	if err := validCountDuration(d); err != nil {
		return hostcall.Fail[uint32](err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostcall.Ok(h.erl.count(rc, entry, d))
}

func (h *Host) PenaltyboxAdd(pb, entry string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.erl.box(pb, entry, ttl)
	return nil
}

func (h *Host) PenaltyboxHas(pb, entry string) hostcall.Result[bool] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostcall.Ok(h.erl.boxed(pb, entry))
}
