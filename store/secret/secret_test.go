package secret

import (
	"bytes"
	"testing"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/memhost"
)

func TestStore(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	long := bytes.Repeat([]byte("s"), 5000)
	h.AddSecretStore("creds", map[string][]byte{"api_key": []byte("k3y"), "cert": long})

	s, err := Open(h, "creds")
	if err != nil {
		t.Fatal(err)
	}
	sec, err := s.Get("api_key")
	if err != nil || sec == nil {
		t.Fatalf("Get = %v, %v", sec, err)
	}
	if pt, _ := sec.Plaintext(); string(pt) != "k3y" {
		t.Errorf("plaintext = %q", pt)
	}

	cert, _ := s.Get("cert")
	pt, err := cert.Plaintext()
	if err != nil || !bytes.Equal(pt, long) {
		t.Errorf("long secret: %d bytes, %v", len(pt), err)
	}

	if sec, err := s.Get("absent"); sec != nil || err != nil {
		t.Errorf("absent = %v, %v", sec, err)
	}
}

func TestOpenErrors(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	if _, err := Open(h, "missing"); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("missing store: %v", err)
	}
	if _, err := Open(h, "bad name"); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("bad name: %v", err)
	}
}

func TestFromBytes(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	s, err := FromBytes(h, []byte("inline"))
	if err != nil {
		t.Fatal(err)
	}
	if pt, _ := s.Plaintext(); string(pt) != "inline" {
		t.Errorf("plaintext = %q", pt)
	}
	if _, err := FromBytes(h, make([]byte, MaxPlaintextLen+1)); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("oversized: %v", err)
	}
}
