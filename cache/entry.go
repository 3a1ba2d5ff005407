package cache

import (
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

const defaultBufLen = 1024

// Entry is the result of a lookup. Metadata is fetched on first use.
type Entry struct {
	host   Host
	handle hostcall.CacheHandle
	closed bool

	meta struct {
		length    *uint64
		hasLength bool
		maxAge    *time.Duration
		swr       *time.Duration
		userMeta  []byte
		haveMeta  bool
		sensitive *bool
		surrogate []string
		haveKeys  bool
		vary      []string
		haveVary  bool
	}
}

func newEntry(host Host, h hostcall.CacheHandle) *Entry {
	return &Entry{host: host, handle: h}
}

// Handle returns the underlying handle.
func (e *Entry) Handle() hostcall.CacheHandle { return e.handle }

func (e *Entry) check() error {
	if e.closed {
		return errors.InvalidState(errors.PhaseCache, "cache entry is closed")
	}
	return nil
}

// State returns the current lookup state.
func (e *Entry) State() (State, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	s, err := e.host.CacheGetState(e.handle).Get()
	return State(s), err
}

// Length returns the body length, if the host knows it.
func (e *Entry) Length() (uint64, bool, error) {
	if err := e.check(); err != nil {
		return 0, false, err
	}
	if e.meta.length == nil {
		n, ok, err := e.host.CacheGetLength(e.handle).Optional()
		if err != nil {
			return 0, false, err
		}
		e.meta.length, e.meta.hasLength = &n, ok
	}
	return *e.meta.length, e.meta.hasLength, nil
}

// MaxAge returns the freshness lifetime.
func (e *Entry) MaxAge() (time.Duration, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	if e.meta.maxAge == nil {
		d, err := e.nanos(e.host.CacheGetMaxAgeNs(e.handle))
		if err != nil {
			return 0, err
		}
		e.meta.maxAge = &d
	}
	return *e.meta.maxAge, nil
}

// StaleWhileRevalidate returns the window after expiry in which the object
// may be served while it is refreshed.
func (e *Entry) StaleWhileRevalidate() (time.Duration, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	if e.meta.swr == nil {
		d, err := e.nanos(e.host.CacheGetStaleWhileRevalidateNs(e.handle))
		if err != nil {
			return 0, err
		}
		e.meta.swr = &d
	}
	return *e.meta.swr, nil
}

// Age returns the current age of the object.
func (e *Entry) Age() (time.Duration, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	return e.nanos(e.host.CacheGetAgeNs(e.handle))
}

// Hits returns how many times the object was served. An entry with no
// cached object reports an optional_none error.
func (e *Entry) Hits() (uint64, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	return e.host.CacheGetHits(e.handle).Get()
}

// nanos passes optional_none through so a missing object is not read as a
// zero duration.
func (e *Entry) nanos(r hostcall.Result[uint64]) (time.Duration, error) {
	ns, err := r.Get()
	if err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

// UserMetadata returns the opaque bytes stored with the object.
func (e *Entry) UserMetadata() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if !e.meta.haveMeta {
		b, _, err := hostcall.WithBufferRetry(defaultBufLen, func(n uint32) hostcall.Result[[]byte] {
			return e.host.CacheGetUserMetadata(e.handle, n)
		}).Optional()
		if err != nil {
			return nil, err
		}
		e.meta.userMeta, e.meta.haveMeta = b, true
	}
	return e.meta.userMeta, nil
}

// SensitiveData reports whether the object was marked sensitive.
func (e *Entry) SensitiveData() (bool, error) {
	if err := e.check(); err != nil {
		return false, err
	}
	if e.meta.sensitive == nil {
		v, _, err := e.host.CacheGetSensitiveData(e.handle).Optional()
		if err != nil {
			return false, err
		}
		e.meta.sensitive = &v
	}
	return *e.meta.sensitive, nil
}

// SurrogateKeys returns the purge keys of the object.
func (e *Entry) SurrogateKeys() ([]string, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if !e.meta.haveKeys {
		s, _, err := hostcall.WithBufferRetry(defaultBufLen, func(n uint32) hostcall.Result[string] {
			return e.host.CacheGetSurrogateKeys(e.handle, n)
		}).Optional()
		if err != nil {
			return nil, err
		}
		e.meta.surrogate, e.meta.haveKeys = tokens(s), true
	}
	return e.meta.surrogate, nil
}

// VaryRule returns the header names the object varies on.
func (e *Entry) VaryRule() ([]string, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if !e.meta.haveVary {
		s, _, err := hostcall.WithBufferRetry(defaultBufLen, func(n uint32) hostcall.Result[string] {
			return e.host.CacheGetVaryRule(e.handle, n)
		}).Optional()
		if err != nil {
			return nil, err
		}
		e.meta.vary, e.meta.haveVary = tokens(s), true
	}
	return e.meta.vary, nil
}

// Body opens a read stream over the object. When the host has no usable
// body the returned Body is invalid and err is nil; check Valid.
func (e *Entry) Body(rng Range) (*body.Body, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var opts hostcall.BodyRange
	if rng.Start > 0 {
		opts.Mask |= hostcall.GetBodyOptStart
		opts.Start = rng.Start
	}
	if rng.End > 0 {
		if rng.End < rng.Start {
			return nil, errors.InvalidInput("end", "range end %d is before start %d", rng.End, rng.Start)
		}
		opts.Mask |= hostcall.GetBodyOptEnd
		opts.End = rng.End
	}
	h, ok, err := e.host.CacheGetBody(e.handle, opts).Optional()
	if err != nil {
		return nil, err
	}
	if !ok {
		return body.Invalid(e.host), nil
	}
	return body.Wrap(e.host, h), nil
}

// Close releases the entry. A second Close is a caller error and does not
// reach the host.
func (e *Entry) Close() error {
	if err := e.check(); err != nil {
		return err
	}
	e.closed = true
	return e.host.CacheClose(e.handle)
}

// invalidate drops memoised metadata after the object changed.
func (e *Entry) invalidate() {
	e.meta = Entry{}.meta
}
