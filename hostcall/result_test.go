package hostcall

import (
	"testing"

	"github.com/wippyai/edgecache/errors"
)

func TestResultAccessors(t *testing.T) {
	r := Ok(uint32(7))
	if r.IsErr() || r.Err() != nil {
		t.Fatalf("Ok result reports error: %v", r.Err())
	}
	if r.Unwrap() != 7 {
		t.Errorf("Unwrap = %d, want 7", r.Unwrap())
	}

	f := Fail[uint32](errors.Host(errors.KindBadHandle))
	if !f.IsErr() {
		t.Fatal("Fail result not an error")
	}
	if !errors.HasKind(f.Err(), errors.KindBadHandle) {
		t.Errorf("Err kind = %v", f.Err())
	}
}

func TestResultUnwrapPanicsOnError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Unwrap on error did not panic")
		}
	}()
	Fail[int](errors.Host(errors.KindGeneric)).Unwrap()
}

func TestResultFromStatus(t *testing.T) {
	if r := FromStatus("x", errors.StatusOK); r.IsErr() || r.Unwrap() != "x" {
		t.Errorf("status ok: %v", r.Err())
	}
	r := FromStatus("x", errors.StatusBadHandle)
	if !errors.HasKind(r.Err(), errors.KindBadHandle) {
		t.Errorf("status 3: %v", r.Err())
	}
}

func TestResultOptional(t *testing.T) {
	v, ok, err := Ok(uint64(5)).Optional()
	if !ok || err != nil || v != 5 {
		t.Errorf("Optional on ok = %d %v %v", v, ok, err)
	}

	_, ok, err = Fail[uint64](errors.OptionalNone()).Optional()
	if ok || err != nil {
		t.Errorf("optional_none should be absent, got ok=%v err=%v", ok, err)
	}

	_, ok, err = Fail[uint64](errors.Host(errors.KindGeneric)).Optional()
	if ok || err == nil {
		t.Error("generic error swallowed")
	}
}

func TestWithBufferRetry(t *testing.T) {
	payload := []byte("0123456789")
	tests := []struct {
		name    string
		initial uint32
		calls   int
	}{
		{"fits", 16, 1},
		{"grows once", 4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := WithBufferRetry(tt.initial, func(maxLen uint32) Result[[]byte] {
				calls++
				if int(maxLen) < len(payload) {
					return Fail[[]byte](errors.BufferLen(len(payload)))
				}
				return Ok(payload)
			})
			if r.IsErr() {
				t.Fatalf("unexpected error: %v", r.Err())
			}
			if calls != tt.calls {
				t.Errorf("calls = %d, want %d", calls, tt.calls)
			}
		})
	}
}

func TestWithBufferRetryOnlyOnce(t *testing.T) {
	calls := 0
	r := WithBufferRetry(4, func(maxLen uint32) Result[[]byte] {
		calls++
		return Fail[[]byte](errors.BufferLen(int(maxLen) * 2))
	})
	if !errors.HasKind(r.Err(), errors.KindBufferLen) {
		t.Fatalf("expected buffer_len, got %v", r.Err())
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWithBufferRetryOtherError(t *testing.T) {
	calls := 0
	r := WithBufferRetry(4, func(uint32) Result[string] {
		calls++
		return Fail[string](errors.Host(errors.KindBadHandle))
	})
	if !r.IsErr() || calls != 1 {
		t.Errorf("calls = %d err = %v", calls, r.Err())
	}
}

func TestCacheWriteOptionsHas(t *testing.T) {
	o := CacheWriteOptions{Mask: WriteOptVaryRule | WriteOptSensitiveData}
	if !o.Has(WriteOptVaryRule) || !o.Has(WriteOptSensitiveData) {
		t.Error("set bits not reported")
	}
	if o.Has(WriteOptLength) {
		t.Error("unset bit reported")
	}
	if WriteOptSensitiveData != 256 || WriteOptUserMetadata != 128 || WriteOptRequestHeaders != 2 {
		t.Error("write option mask bits moved")
	}
}
