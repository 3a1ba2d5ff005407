package hostcall

import (
	"fmt"

	"github.com/wippyai/edgecache/errors"
)

// Result carries either the value of a host call or its error. Expected
// failures (not found, bad handle, buffer too small) are values, not panics.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromStatus builds a Result from a raw status code and an out value.
func FromStatus[T any](v T, status errors.Status) Result[T] {
	if err := errors.FromStatus(status); err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

// IsErr reports whether the call failed.
func (r Result[T]) IsErr() bool {
	return r.err != nil
}

// Err returns the failure, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// Unwrap returns the value. Calling it on a failed Result is a contract
// violation and panics.
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(fmt.Sprintf("hostcall: unwrap on error result: %v", r.err))
	}
	return r.val
}

// Get returns the value and error in Go's usual shape.
func (r Result[T]) Get() (T, error) {
	return r.val, r.err
}

// Optional turns optional_none into an absent value. Any other error is
// returned as is.
func (r Result[T]) Optional() (T, bool, error) {
	if r.err == nil {
		return r.val, true, nil
	}
	var zero T
	if errors.IsOptionalNone(r.err) {
		return zero, false, nil
	}
	return zero, false, r.err
}

// WithBufferRetry calls fn with an initial buffer size and, if the host
// reports buffer_len with the size it needs, retries exactly once with that
// size. A second failure is returned as is.
func WithBufferRetry[T any](initial uint32, fn func(maxLen uint32) Result[T]) Result[T] {
	r := fn(initial)
	if !r.IsErr() {
		return r
	}
	needed, ok := errors.RequiredLen(r.err)
	if !ok || needed <= int(initial) {
		return r
	}
	return fn(uint32(needed))
}

// FromError builds a Result from a value and an error.
func FromError[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}
