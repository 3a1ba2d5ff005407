package secret

import (
	"fmt"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

const (
	// MaxNameLen is the longest store name.
	MaxNameLen = 255
	// MaxKeyLen is the longest secret name.
	MaxKeyLen = 255
	// MaxPlaintextLen is the largest secret value.
	MaxPlaintextLen = 64 * 1024
)

const defaultBufLen = 1024

// Store is an open secret store.
type Store struct {
	host   hostcall.SecretStore
	handle hostcall.SecretStoreHandle
	name   string
}

// Secret is a handle to one secret value.
type Secret struct {
	host   hostcall.SecretStore
	handle hostcall.SecretHandle
}

func validName(field, name string, limit int) error {
	if name == "" {
		return errors.InvalidInput(field, "is empty")
	}
	if len(name) > limit {
		return errors.InvalidInput(field, "is %d bytes, limit is %d", len(name), limit)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '_' || c == '-' || c == '.'
		if !ok {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Path(field).
				Value(name).
				Detail("invalid character %q", c).
				Build()
		}
	}
	return nil
}

// Open opens the secret store called name.
func Open(host hostcall.SecretStore, name string) (*Store, error) {
	if err := validName("name", name, MaxNameLen); err != nil {
		return nil, err
	}
	h, ok, err := host.SecretStoreOpen(name).Optional()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindNotFound).
			Value(name).
			Detail("secret store %q does not exist", name).
			Build()
	}
	return &Store{host: host, handle: h, name: name}, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Get returns the secret called key, or nil when the store has none.
func (s *Store) Get(key string) (*Secret, error) {
	if err := validName("key", key, MaxKeyLen); err != nil {
		return nil, err
	}
	h, ok, err := s.host.SecretStoreGet(s.handle, key).Optional()
	if err != nil || !ok {
		return nil, err
	}
	return &Secret{host: s.host, handle: h}, nil
}

// FromBytes wraps plaintext in a secret handle so it can be passed where
// the host expects one.
func FromBytes(host hostcall.SecretStore, plaintext []byte) (*Secret, error) {
	if len(plaintext) > MaxPlaintextLen {
		return nil, errors.InvalidInput("plaintext", "is %d bytes, limit is %d", len(plaintext), MaxPlaintextLen)
	}
	h, err := host.SecretFromBytes(plaintext).Get()
	if err != nil {
		return nil, fmt.Errorf("secret from bytes: %w", err)
	}
	return &Secret{host: host, handle: h}, nil
}

// Handle returns the underlying handle.
func (s *Secret) Handle() hostcall.SecretHandle { return s.handle }

// Plaintext returns the secret value.
func (s *Secret) Plaintext() ([]byte, error) {
	return hostcall.WithBufferRetry(defaultBufLen, func(n uint32) hostcall.Result[[]byte] {
		return s.host.SecretPlaintext(s.handle, n)
	}).Get()
}
