package memhost

import (
	"testing"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

func kvPut(t *testing.T, h *Host, s hostcall.KVStoreHandle, key, value string, opts hostcall.KVInsertOptions) error {
	t.Helper()
	b, _ := h.BodyNew().Get()
	h.BodyWrite(b, []byte(value), hostcall.BodyEndBack)
	ins, err := h.KVInsert(s, key, b, opts).Get()
	if err != nil {
		t.Fatalf("KVInsert: %v", err)
	}
	return h.KVInsertWait(ins)
}

func kvGet(t *testing.T, h *Host, s hostcall.KVStoreHandle, key string) (string, hostcall.KVEntry, error) {
	t.Helper()
	l, err := h.KVLookup(s, key).Get()
	if err != nil {
		t.Fatalf("KVLookup: %v", err)
	}
	e, err := h.KVLookupWait(l).Get()
	if err != nil {
		return "", e, err
	}
	return readAll(t, h, e.Body), e, nil
}

func TestKVInsertModes(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	h.AddKVStore("store")
	s, err := h.KVOpen("store").Get()
	if err != nil {
		t.Fatal(err)
	}

	if err := kvPut(t, h, s, "k", "mid", hostcall.KVInsertOptions{Metadata: []byte("m")}); err != nil {
		t.Fatal(err)
	}
	kvPut(t, h, s, "k", "-end", hostcall.KVInsertOptions{Mode: hostcall.KVInsertAppend})
	kvPut(t, h, s, "k", "start-", hostcall.KVInsertOptions{Mode: hostcall.KVInsertPrepend})

	v, e, err := kvGet(t, h, s, "k")
	if err != nil || v != "start-mid-end" {
		t.Fatalf("value = %q, %v", v, err)
	}
	if e.Generation == 0 {
		t.Error("generation not set")
	}

	err = kvPut(t, h, s, "k", "x", hostcall.KVInsertOptions{Mode: hostcall.KVInsertAdd})
	if !errors.HasKind(err, errors.KindPreconditionFailed) {
		t.Errorf("add over existing: %v", err)
	}
	stale := e.Generation + 100
	err = kvPut(t, h, s, "k", "x", hostcall.KVInsertOptions{IfGenerationMatch: &stale})
	if !errors.HasKind(err, errors.KindPreconditionFailed) {
		t.Errorf("generation mismatch: %v", err)
	}
	gen := e.Generation
	if err := kvPut(t, h, s, "k", "x", hostcall.KVInsertOptions{IfGenerationMatch: &gen}); err != nil {
		t.Errorf("generation match: %v", err)
	}
}

func TestKVMissingAndDelete(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	if _, err := h.KVOpen("absent").Get(); !errors.IsOptionalNone(err) {
		t.Errorf("open absent store: %v", err)
	}
	h.AddKVStore("s")
	s, _ := h.KVOpen("s").Get()

	if _, _, err := kvGet(t, h, s, "nope"); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("lookup missing: %v", err)
	}
	kvPut(t, h, s, "k", "v", hostcall.KVInsertOptions{})
	d, _ := h.KVDelete(s, "k").Get()
	if err := h.KVDeleteWait(d); err != nil {
		t.Fatal(err)
	}
	d, _ = h.KVDelete(s, "k").Get()
	if err := h.KVDeleteWait(d); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestKVTTL(t *testing.T) {
	h, clock := newTestHost(t, Config{})
	h.AddKVStore("s")
	s, _ := h.KVOpen("s").Get()
	kvPut(t, h, s, "k", "v", hostcall.KVInsertOptions{TTL: time.Minute})
	clock.Advance(2 * time.Minute)
	if _, _, err := kvGet(t, h, s, "k"); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("expired key: %v", err)
	}
}

func TestKVListPages(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	h.AddKVStore("s")
	s, _ := h.KVOpen("s").Get()
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		kvPut(t, h, s, k, "v", hostcall.KVInsertOptions{})
	}

	list := func(opts hostcall.KVListOptions) hostcall.KVListPage {
		l, _ := h.KVList(s, opts).Get()
		page, err := h.KVListWait(l).Get()
		if err != nil {
			t.Fatal(err)
		}
		return page
	}
	first := list(hostcall.KVListOptions{Prefix: "a/", Limit: 2})
	if len(first.Keys) != 2 || first.Keys[0] != "a/1" || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}
	second := list(hostcall.KVListOptions{Prefix: "a/", Limit: 2, Cursor: first.NextCursor})
	if len(second.Keys) != 1 || second.Keys[0] != "a/3" || second.NextCursor != "" {
		t.Fatalf("second page = %+v", second)
	}
}

func TestKVLatencyIsObservable(t *testing.T) {
	h, _ := newTestHost(t, Config{KVLatency: 30 * time.Millisecond})
	h.AddKVStore("s")
	s, _ := h.KVOpen("s").Get()
	l, _ := h.KVLookup(s, "k").Get()
	if ok, _ := h.AsyncIsReady(l.Async()).Get(); ok {
		t.Fatal("pending lookup ready before latency elapsed")
	}
	idx, err := h.AsyncSelect([]hostcall.AsyncHandle{l.Async()}, 0).Get()
	if err != nil || idx != 0 {
		t.Fatalf("select = %d, %v", idx, err)
	}
}
