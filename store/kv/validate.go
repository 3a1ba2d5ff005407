package kv

import (
	"strings"

	"github.com/wippyai/edgecache/errors"
)

const (
	// MaxNameLen is the longest store name.
	MaxNameLen = 255
	// MaxKeyLen is the longest key.
	MaxKeyLen = 1024
	// MaxValueLen is the largest value a single insert may carry.
	MaxValueLen = 30 * 1024 * 1024
	// MaxMetadataLen is the largest metadata blob.
	MaxMetadataLen = 2000
	// MaxListLimit caps the page size of List.
	MaxListLimit = 1000
)

const acmePrefix = ".well-known/acme-challenge/"

func validateName(name string) error {
	if name == "" {
		return errors.InvalidInput("name", "store name is empty")
	}
	if len(name) > MaxNameLen {
		return errors.InvalidInput("name", "store name is %d bytes, limit is %d", len(name), MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c == 0x7f {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Path("name").
				Value(name).
				Detail("store name contains control character at %d", i).
				Build()
		}
	}
	return nil
}

// ValidateKey checks a key against the store's naming rules.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return errors.InvalidInput("key", "key is empty")
	case len(key) > MaxKeyLen:
		return errors.InvalidInput("key", "key is %d bytes, limit is %d", len(key), MaxKeyLen)
	case key == "." || key == "..":
		return errors.InvalidInput("key", "key cannot be %q", key)
	case strings.HasPrefix(key, acmePrefix):
		return errors.InvalidInput("key", "key cannot start with %s", acmePrefix)
	}
	if i := strings.IndexAny(key, "#?*[]\r\n"); i >= 0 {
		return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Path("key").
			Value(key).
			Detail("key contains forbidden character %q", key[i]).
			Build()
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "." || seg == ".." {
			return errors.InvalidInput("key", "key cannot contain a %q path segment", seg)
		}
	}
	return nil
}
