package cache

import (
	"crypto/sha256"
	"math"
	"strings"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/fetch"
	"github.com/wippyai/edgecache/hostcall"
)

// MaxKeyLen is the longest key the cache accepts.
const MaxKeyLen = hostcall.MaxCacheKeyLen

// HashedKeyLen is the length of keys derived by HashKey.
const HashedKeyLen = sha256.Size

// WriteOptions describe an object being written. MaxAge is required; zero
// values of the other fields mean "not set".
type WriteOptions struct {
	MaxAge               time.Duration
	InitialAge           time.Duration
	StaleWhileRevalidate time.Duration
	// Vary names the request headers that select between variants.
	Vary          []string
	SurrogateKeys []string
	// Length is the total body length when known up front.
	Length        *uint64
	UserMetadata  []byte
	SensitiveData bool
	// RequestHeaders supplies the header values the vary rule is evaluated
	// against.
	RequestHeaders *fetch.Request
}

// LookupOptions are the optional inputs of a lookup.
type LookupOptions struct {
	RequestHeaders *fetch.Request
}

// Range selects part of a body. Zero fields are unset; End is exclusive.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns a pointer to n for WriteOptions.Length.
func Len(n uint64) *uint64 { return &n }

// HashKey derives a fixed-length key from request attributes.
func HashKey(parts ...string) []byte {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return h.Sum(nil)
}

// Millis converts a millisecond count to a duration. Negative, NaN,
// infinite and out-of-range values are rejected.
func Millis(field string, v float64) (time.Duration, error) {
	return toDuration(field, v, float64(time.Millisecond))
}

// Seconds converts a second count to a duration with the same checks as
// Millis.
func Seconds(field string, v float64) (time.Duration, error) {
	return toDuration(field, v, float64(time.Second))
}

func toDuration(field string, v, unit float64) (time.Duration, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.InvalidInput(field, "must be a finite number")
	}
	if v < 0 {
		return 0, errors.InvalidInput(field, "must not be negative")
	}
	ns := v * unit
	if ns >= math.MaxInt64 {
		return 0, errors.InvalidInput(field, "too large")
	}
	return time.Duration(ns), nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return errors.InvalidInput("key", "cache key is empty")
	}
	if len(key) > MaxKeyLen {
		return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Path("key").
			Value(len(key)).
			Detail("cache key is %d bytes, limit is %d", len(key), MaxKeyLen).
			Build()
	}
	return nil
}

func (o LookupOptions) encode() hostcall.CacheLookupOptions {
	var out hostcall.CacheLookupOptions
	if o.RequestHeaders != nil {
		out.Mask |= hostcall.LookupOptRequestHeaders
		out.RequestHeaders = o.RequestHeaders.Handle()
	}
	return out
}

func (o WriteOptions) encode() (hostcall.CacheWriteOptions, error) {
	var out hostcall.CacheWriteOptions

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"maxAge", o.MaxAge},
		{"initialAge", o.InitialAge},
		{"staleWhileRevalidate", o.StaleWhileRevalidate},
	}
	for _, f := range durations {
		if f.d < 0 {
			return out, errors.InvalidInput(f.name, "must not be negative")
		}
	}
	if o.MaxAge == 0 {
		return out, errors.InvalidInput("maxAge", "is required")
	}
	out.MaxAgeNs = uint64(o.MaxAge)

	if o.InitialAge > 0 {
		out.Mask |= hostcall.WriteOptInitialAge
		out.InitialAgeNs = uint64(o.InitialAge)
	}
	if o.StaleWhileRevalidate > 0 {
		out.Mask |= hostcall.WriteOptStaleWhileRevalidate
		out.StaleWhileRevalidateNs = uint64(o.StaleWhileRevalidate)
	}
	if len(o.Vary) > 0 {
		rule, err := joinTokens("vary", o.Vary)
		if err != nil {
			return out, err
		}
		out.Mask |= hostcall.WriteOptVaryRule
		out.VaryRule = rule
	}
	if len(o.SurrogateKeys) > 0 {
		keys, err := joinTokens("surrogateKeys", o.SurrogateKeys)
		if err != nil {
			return out, err
		}
		out.Mask |= hostcall.WriteOptSurrogateKeys
		out.SurrogateKeys = keys
	}
	if o.Length != nil {
		out.Mask |= hostcall.WriteOptLength
		out.Length = *o.Length
	}
	if o.UserMetadata != nil {
		out.Mask |= hostcall.WriteOptUserMetadata
		out.UserMetadata = o.UserMetadata
	}
	if o.SensitiveData {
		out.Mask |= hostcall.WriteOptSensitiveData
	}
	if o.RequestHeaders != nil {
		out.Mask |= hostcall.WriteOptRequestHeaders
		out.RequestHeaders = o.RequestHeaders.Handle()
	}
	return out, nil
}

func joinTokens(field string, toks []string) (string, error) {
	for i, t := range toks {
		if t == "" || strings.ContainsAny(t, " \t\r\n") {
			return "", errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Path(field).
				Value(t).
				Detail("entry %d must be a non-empty token without whitespace", i).
				Build()
		}
	}
	return strings.Join(toks, " "), nil
}
