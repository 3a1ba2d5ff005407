package kv

import (
	"strings"
	"testing"
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/memhost"
	"github.com/wippyai/edgecache/runtime"
)

func openStore(t *testing.T, cfg memhost.Config) (*Store, *memhost.Host) {
	t.Helper()
	h := memhost.New(cfg)
	t.Cleanup(func() { h.Close() })
	h.AddKVStore("data")
	s, err := Open(h, "data")
	if err != nil {
		t.Fatal(err)
	}
	return s, h
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"normal-key_123", true},
		{"nested/path/key", true},
		{"a#b", false},
		{"a?b", false},
		{"a*b", false},
		{"a[b]", false},
		{"line\nbreak", false},
		{"carriage\rreturn", false},
		{".", false},
		{"..", false},
		{"../x", false},
		{"a/./b", false},
		{".well-known/acme-challenge/x", false},
		{".well-known/other", true},
		{"", false},
		{strings.Repeat("k", MaxKeyLen), true},
		{strings.Repeat("k", MaxKeyLen+1), false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.ok && err != nil {
			t.Errorf("ValidateKey(%q) = %v", tt.key, err)
		}
		if !tt.ok && !errors.HasKind(err, errors.KindInvalidInput) {
			t.Errorf("ValidateKey(%q) accepted", tt.key)
		}
	}
}

func TestOpen(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	if _, err := Open(h, "missing"); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("open missing: %v", err)
	}
	if _, err := Open(h, "bad\x01name"); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("control char name: %v", err)
	}
	if _, err := Open(h, strings.Repeat("n", MaxNameLen+1)); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("long name: %v", err)
	}
}

func TestPutGet(t *testing.T) {
	s, _ := openStore(t, memhost.Config{})
	if err := s.Put("k", []byte("value"), InsertOptions{Metadata: []byte("meta")}); err != nil {
		t.Fatal(err)
	}
	e, err := s.Get("k")
	if err != nil || e == nil {
		t.Fatalf("Get = %v, %v", e, err)
	}
	data, _ := e.Bytes()
	if string(data) != "value" || string(e.Metadata) != "meta" {
		t.Errorf("entry = %q %q", data, e.Metadata)
	}
	if e, err := s.Get("absent"); err != nil || e != nil {
		t.Errorf("absent = %v, %v", e, err)
	}
}

func TestModesAndGenerations(t *testing.T) {
	s, _ := openStore(t, memhost.Config{})
	s.Put("k", []byte("b"), InsertOptions{})
	s.Put("k", []byte("c"), InsertOptions{Mode: Append})
	s.Put("k", []byte("a"), InsertOptions{Mode: Prepend})
	e, _ := s.Get("k")
	data, _ := e.Bytes()
	if string(data) != "abc" {
		t.Errorf("value = %q", data)
	}

	err := s.Put("k", []byte("x"), InsertOptions{Mode: Add})
	if !errors.HasKind(err, errors.KindPreconditionFailed) {
		t.Errorf("add existing: %v", err)
	}
	wrong := e.Generation + 1
	err = s.Put("k", []byte("x"), InsertOptions{IfGenerationMatch: &wrong})
	if !errors.HasKind(err, errors.KindPreconditionFailed) {
		t.Errorf("generation mismatch: %v", err)
	}
	if errors.KVMessage(errors.KindPreconditionFailed) == "" {
		t.Error("no message for precondition_failed")
	}
}

func TestInsertValidationBeforeHost(t *testing.T) {
	s, h := openStore(t, memhost.Config{})
	before := h.Handles()
	tests := []struct {
		name string
		err  error
	}{
		{"key", s.Put("a#b", []byte("x"), InsertOptions{})},
		{"metadata", s.Put("k", nil, InsertOptions{Metadata: make([]byte, MaxMetadataLen+1)})},
		{"ttl", s.Put("k", nil, InsertOptions{TTL: -time.Second})},
		{"mode", s.Put("k", nil, InsertOptions{Mode: Mode(9)})},
	}
	for _, tt := range tests {
		if !errors.HasKind(tt.err, errors.KindInvalidInput) {
			t.Errorf("%s: %v", tt.name, tt.err)
		}
	}
	if h.Handles() != before {
		t.Errorf("validation leaked handles: %d -> %d", before, h.Handles())
	}
}

func TestPayloadLimit(t *testing.T) {
	s, h := openStore(t, memhost.Config{})
	big := make([]byte, MaxValueLen+1)
	if err := s.Put("k", big, InsertOptions{}); !errors.HasKind(err, errors.KindPayloadTooLarge) {
		t.Errorf("put: %v", err)
	}
	b, _ := body.Make(h)
	b.WriteAllBack(big)
	if _, err := s.Insert("k", b, InsertOptions{}); !errors.HasKind(err, errors.KindPayloadTooLarge) {
		t.Errorf("insert: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := openStore(t, memhost.Config{})
	s.Put("k", []byte("v"), InsertOptions{})
	p, err := s.Delete("k")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); !errors.HasKind(err, errors.KindInvalidState) {
		t.Errorf("second wait: %v", err)
	}
	if e, _ := s.Get("k"); e != nil {
		t.Error("deleted key still present")
	}
}

func TestListPaging(t *testing.T) {
	s, _ := openStore(t, memhost.Config{})
	for _, k := range []string{"u/1", "u/2", "u/3", "v/1"} {
		s.Put(k, []byte("x"), InsertOptions{})
	}
	var keys []string
	cursor := ""
	for {
		p, err := s.List(ListOptions{Prefix: "u/", Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		page, err := p.Wait()
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, page.Keys...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if strings.Join(keys, ",") != "u/1,u/2,u/3" {
		t.Errorf("keys = %v", keys)
	}
	if _, err := s.List(ListOptions{Limit: MaxListLimit + 1}); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("limit: %v", err)
	}
}

func TestConcurrentLookupsThroughSelect(t *testing.T) {
	s, h := openStore(t, memhost.Config{KVLatency: 20 * time.Millisecond})
	s.Put("a", []byte("1"), InsertOptions{})
	s.Put("b", []byte("2"), InsertOptions{})

	rc := runtime.NewContext(h)
	rc.Serve()
	pa, _ := s.Lookup("a")
	pb, _ := s.Lookup("b")

	got := map[string]string{}
	for _, p := range []struct {
		key string
		p   *PendingLookup
	}{{"a", pa}, {"b", pb}} {
		rc.Loop().Await(p.p, func() {
			e, err := p.p.Wait()
			if err != nil {
				t.Error(err)
				return
			}
			data, _ := e.Bytes()
			got[p.key] = string(data)
		})
	}
	if err := rc.Loop().Run(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("got %v", got)
	}
}
