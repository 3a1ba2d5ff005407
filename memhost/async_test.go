package memhost

import (
	"testing"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

func TestSelectReturnsReadyIndex(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	w, _ := h.CacheInsert([]byte("sel"), writeOpts(time.Minute)).Get()
	c, _ := h.CacheLookup([]byte("sel"), hostcall.CacheLookupOptions{}).Get()
	pending, _ := h.CacheGetBody(c, hostcall.BodyRange{}).Get()
	ready, _ := h.BodyNew().Get()

	idx, err := h.AsyncSelect([]hostcall.AsyncHandle{pending.Async(), ready.Async()}, 0).Get()
	if err != nil || idx != 1 {
		t.Fatalf("select = %d, %v", idx, err)
	}

	idx, err = h.AsyncSelect([]hostcall.AsyncHandle{pending.Async()}, 10).Get()
	if err != nil || idx != hostcall.NoReadyIndex {
		t.Fatalf("timeout select = %d, %v", idx, err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.BodyWrite(w, []byte("x"), hostcall.BodyEndBack)
	}()
	idx, err = h.AsyncSelect([]hostcall.AsyncHandle{pending.Async()}, 0).Get()
	if err != nil || idx != 0 {
		t.Fatalf("select after write = %d, %v", idx, err)
	}
}

func TestSelectRejectsUnselectable(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	req, _ := h.ReqNew().Get()
	_, err := h.AsyncSelect([]hostcall.AsyncHandle{hostcall.AsyncHandle(req)}, 1).Get()
	if !errors.HasKind(err, errors.KindInvalidArgument) {
		t.Errorf("select on request: %v", err)
	}
	if _, err := h.AsyncSelect(nil, 0).Get(); err == nil {
		t.Error("empty select without timeout accepted")
	}
}

func TestBusyHandleReadiness(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	key := []byte("busy")
	owner, _ := h.CacheTransactionLookup(key, hostcall.CacheLookupOptions{}).Get()

	busy, err := h.CacheTransactionLookupAsync(key, hostcall.CacheLookupOptions{}).Get()
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := h.AsyncIsReady(busy.Async()).Get(); ok {
		t.Fatal("busy handle ready while refresh is pending")
	}
	h.CacheTransactionCancel(owner)
	if ok, _ := h.AsyncIsReady(busy.Async()).Get(); !ok {
		t.Fatal("busy handle not ready after cancel")
	}
	c, err := h.CacheBusyHandleWait(busy).Get()
	if err != nil {
		t.Fatal(err)
	}
	if mustState(t, h, c)&hostcall.LookupMustInsertOrUpdate == 0 {
		t.Error("busy wait did not hand over ownership")
	}
}

func TestCloseWakesBlockedCallers(t *testing.T) {
	h := New(Config{})
	h.CacheInsert([]byte("k"), writeOpts(time.Minute))
	c, _ := h.CacheLookup([]byte("k"), hostcall.CacheLookupOptions{}).Get()
	b, _ := h.CacheGetBody(c, hostcall.BodyRange{}).Get()

	done := make(chan error, 1)
	go func() {
		_, err := h.BodyRead(b, 10).Get()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	h.Close()
	select {
	case err := <-done:
		if !errors.HasKind(err, errors.KindInvalidState) {
			t.Errorf("read after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader not woken by Close")
	}
}
