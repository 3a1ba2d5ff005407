package kv

import (
	"fmt"
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Host is the part of the host ABI the kv client uses.
type Host interface {
	hostcall.KVStore
	hostcall.HTTPBody
}

// Mode selects how Insert combines with an existing value.
type Mode = hostcall.KVInsertMode

const (
	Overwrite = hostcall.KVInsertOverwrite
	Add       = hostcall.KVInsertAdd
	Append    = hostcall.KVInsertAppend
	Prepend   = hostcall.KVInsertPrepend
)

// InsertOptions tune an insert. The zero value overwrites with no
// metadata and no expiry.
type InsertOptions struct {
	Mode Mode
	// IfGenerationMatch makes the insert conditional on the current
	// generation of the key.
	IfGenerationMatch *uint64
	Metadata          []byte
	TTL               time.Duration
	BackgroundFetch   bool
}

// ListOptions select a page of keys.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  uint32
}

// Store is an open kv store.
type Store struct {
	host   Host
	handle hostcall.KVStoreHandle
	name   string
}

// Open opens the store called name.
func Open(host Host, name string) (*Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	h, ok, err := host.KVOpen(name).Optional()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.KV(errors.KindNotFound, fmt.Sprintf("kv store %q does not exist", name))
	}
	return &Store{host: host, handle: h, name: name}, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Lookup starts reading key.
func (s *Store) Lookup(key string) (*PendingLookup, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	h, err := s.host.KVLookup(s.handle, key).Get()
	if err != nil {
		return nil, err
	}
	return &PendingLookup{pending: pending{handle: h.Async()}, host: s.host, h: h}, nil
}

// Get reads key and waits for the result. It returns nil when the key is
// absent.
func (s *Store) Get(key string) (*Entry, error) {
	p, err := s.Lookup(key)
	if err != nil {
		return nil, err
	}
	return p.Wait()
}

// Insert starts writing the contents of b under key. The body is consumed.
func (s *Store) Insert(key string, b *body.Body, opts InsertOptions) (*PendingInsert, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !b.Valid() {
		return nil, errors.InvalidInput("value", "body is invalid")
	}
	if n, ok, err := b.KnownLength(); err != nil {
		return nil, err
	} else if ok && n > MaxValueLen {
		return nil, errors.KV(errors.KindPayloadTooLarge, fmt.Sprintf("value is %d bytes, limit is %d", n, MaxValueLen))
	}
	h, err := s.host.KVInsert(s.handle, key, b.Handle(), hostcall.KVInsertOptions{
		Mode:              opts.Mode,
		BackgroundFetch:   opts.BackgroundFetch,
		IfGenerationMatch: opts.IfGenerationMatch,
		Metadata:          opts.Metadata,
		TTL:               opts.TTL,
	}).Get()
	if err != nil {
		return nil, err
	}
	return &PendingInsert{pending: pending{handle: h.Async()}, host: s.host, h: h}, nil
}

// Put writes value under key and waits for the result.
func (s *Store) Put(key string, value []byte, opts InsertOptions) error {
	if len(value) > MaxValueLen {
		return errors.KV(errors.KindPayloadTooLarge, fmt.Sprintf("value is %d bytes, limit is %d", len(value), MaxValueLen))
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}
	b, err := body.Make(s.host)
	if err != nil {
		return err
	}
	if _, err := b.WriteAllBack(value); err != nil {
		b.Close()
		return err
	}
	p, err := s.Insert(key, b, opts)
	if err != nil {
		b.Close()
		return err
	}
	return p.Wait()
}

// Delete starts removing key.
func (s *Store) Delete(key string) (*PendingDelete, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	h, err := s.host.KVDelete(s.handle, key).Get()
	if err != nil {
		return nil, err
	}
	return &PendingDelete{pending: pending{handle: h.Async()}, host: s.host, h: h}, nil
}

// List starts listing keys.
func (s *Store) List(opts ListOptions) (*PendingList, error) {
	if opts.Limit > MaxListLimit {
		return nil, errors.InvalidInput("limit", "limit %d exceeds %d", opts.Limit, MaxListLimit)
	}
	h, err := s.host.KVList(s.handle, hostcall.KVListOptions{
		Cursor: opts.Cursor,
		Prefix: opts.Prefix,
		Limit:  opts.Limit,
	}).Get()
	if err != nil {
		return nil, err
	}
	return &PendingList{pending: pending{handle: h.Async()}, host: s.host, h: h}, nil
}

func (o InsertOptions) validate() error {
	switch o.Mode {
	case Overwrite, Add, Append, Prepend:
	default:
		return errors.InvalidInput("mode", "unknown insert mode %d", o.Mode)
	}
	if len(o.Metadata) > MaxMetadataLen {
		return errors.InvalidInput("metadata", "metadata is %d bytes, limit is %d", len(o.Metadata), MaxMetadataLen)
	}
	if o.TTL < 0 {
		return errors.InvalidInput("ttl", "must not be negative")
	}
	return nil
}
