package dictionary

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

const (
	// MaxNameLen is the longest dictionary name.
	MaxNameLen = 255
	// MaxKeyLen is the longest item key.
	MaxKeyLen = 255
)

const defaultBufLen = 8000

// Dictionary is an open read-only dictionary.
type Dictionary struct {
	host   hostcall.Dictionary
	handle hostcall.DictionaryHandle
	name   string
}

// ValidateName checks a dictionary name: letters, digits, underscores and
// spaces, starting with a letter.
func ValidateName(name string) error {
	if name == "" {
		return errors.InvalidInput("name", "dictionary name is empty")
	}
	if len(name) > MaxNameLen {
		return errors.InvalidInput("name", "dictionary name is %d bytes, limit is %d", len(name), MaxNameLen)
	}
	if !isLetter(name[0]) {
		return errors.InvalidInput("name", "dictionary name must start with a letter")
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !isLetter(c) && !(c >= '0' && c <= '9') && c != '_' && c != ' ' {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Path("name").
				Value(name).
				Detail("invalid character %q in dictionary name", c).
				Build()
		}
	}
	return nil
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Open opens the dictionary called name.
func Open(host hostcall.Dictionary, name string) (*Dictionary, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	h, ok, err := host.DictionaryOpen(name).Optional()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindNotFound).
			Value(name).
			Detail("dictionary %q does not exist", name).
			Build()
	}
	return &Dictionary{host: host, handle: h, name: name}, nil
}

// Name returns the dictionary name.
func (d *Dictionary) Name() string { return d.name }

// Get returns the value of key and whether it exists.
func (d *Dictionary) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.InvalidInput("key", "key is empty")
	}
	if len(key) > MaxKeyLen {
		return "", false, errors.InvalidInput("key", "key is %d bytes, limit is %d", len(key), MaxKeyLen)
	}
	return hostcall.WithBufferRetry(defaultBufLen, func(n uint32) hostcall.Result[string] {
		return d.host.DictionaryGet(d.handle, key, n)
	}).Optional()
}
