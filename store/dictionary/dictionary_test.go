package dictionary

import (
	"strings"
	"testing"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/memhost"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"routes", true},
		{"Feature Flags_2", true},
		{"2fast", false},
		{"_hidden", false},
		{"with-dash", false},
		{"", false},
		{"a" + strings.Repeat("b", MaxNameLen), false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateName(%q) = %v", tt.name, err)
		}
	}
}

func TestGet(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	h.SetDictionary("routes", map[string]string{"home": "/index.html"})

	d, err := Open(h, "routes")
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := d.Get("home")
	if err != nil || !ok || v != "/index.html" {
		t.Errorf("home = %q, %v, %v", v, ok, err)
	}
	v, ok, err = d.Get("missing")
	if err != nil || ok || v != "" {
		t.Errorf("missing = %q, %v, %v", v, ok, err)
	}
	if _, _, err := d.Get(""); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("empty key: %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	h := memhost.New(memhost.Config{})
	defer h.Close()
	if _, err := Open(h, "nothing"); !errors.HasKind(err, errors.KindNotFound) {
		t.Errorf("open missing: %v", err)
	}
}
