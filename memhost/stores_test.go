package memhost

import (
	"strings"
	"testing"

	"github.com/wippyai/edgecache/errors"
)

func TestSecrets(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	h.AddSecretStore("creds", map[string][]byte{"token": []byte("s3cret")})

	if _, err := h.SecretStoreOpen("missing").Get(); !errors.IsOptionalNone(err) {
		t.Errorf("open missing: %v", err)
	}
	st, err := h.SecretStoreOpen("creds").Get()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.SecretStoreGet(st, "nope").Get(); !errors.IsOptionalNone(err) {
		t.Errorf("get missing: %v", err)
	}
	sec, _ := h.SecretStoreGet(st, "token").Get()
	if _, err := h.SecretPlaintext(sec, 2).Get(); !errors.HasKind(err, errors.KindBufferLen) {
		t.Errorf("short buffer: %v", err)
	}
	pt, err := h.SecretPlaintext(sec, 64).Get()
	if err != nil || string(pt) != "s3cret" {
		t.Errorf("plaintext = %q, %v", pt, err)
	}

	if _, err := h.SecretFromBytes([]byte(strings.Repeat("x", MaxSecretLen+1))).Get(); err == nil {
		t.Error("oversized secret accepted")
	}
	own, _ := h.SecretFromBytes([]byte("mine")).Get()
	if pt, _ := h.SecretPlaintext(own, 64).Get(); string(pt) != "mine" {
		t.Errorf("from bytes = %q", pt)
	}
}

func TestDictionaryHotSwap(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	h.SetDictionary("flags", map[string]string{"beta": "off"})
	d, err := h.DictionaryOpen("flags").Get()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := h.DictionaryGet(d, "beta", 16).Get(); v != "off" {
		t.Errorf("beta = %q", v)
	}
	h.SetDictionary("flags", map[string]string{"beta": "on"})
	if v, _ := h.DictionaryGet(d, "beta", 16).Get(); v != "on" {
		t.Errorf("beta after swap = %q", v)
	}
	if _, err := h.DictionaryGet(d, "gamma", 16).Get(); !errors.IsOptionalNone(err) {
		t.Errorf("missing key: %v", err)
	}
}
