package cache

import (
	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Host is the part of the host ABI the cache uses.
type Host interface {
	hostcall.Cache
	hostcall.HTTPBody
}

// Cache drives the host cache.
type Cache struct {
	host Host
}

// New creates a cache client.
func New(host Host) *Cache {
	return &Cache{host: host}
}

// Lookup returns the current object for key without joining a collapsed
// refresh. It returns nil when nothing is found.
func (c *Cache) Lookup(key []byte, opts LookupOptions) (*Entry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	h, err := c.host.CacheLookup(key, opts.encode()).Get()
	if err != nil {
		return nil, err
	}
	e := newEntry(c.host, h)
	st, err := e.State()
	if err != nil {
		e.Close()
		return nil, err
	}
	if !st.Found() {
		e.Close()
		return nil, nil
	}
	return e, nil
}

// TransactionLookup performs a collapsing lookup. Concurrent callers for a
// missing or expiring key are serialized by the host: one receives
// MustInsertOrUpdate, the rest wait or get stale content.
func (c *Cache) TransactionLookup(key []byte, opts LookupOptions) (*Transaction, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	h, err := c.host.CacheTransactionLookup(key, opts.encode()).Get()
	if err != nil {
		return nil, err
	}
	Logger().Debug("transaction lookup", zap.ByteString("key", key))
	return &Transaction{Entry: newEntry(c.host, h), key: key}, nil
}

// TransactionLookupAsync starts a collapsing lookup without blocking.
func (c *Cache) TransactionLookupAsync(key []byte, opts LookupOptions) (*PendingLookup, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	h, err := c.host.CacheTransactionLookupAsync(key, opts.encode()).Get()
	if err != nil {
		return nil, err
	}
	return &PendingLookup{host: c.host, handle: h, key: key}, nil
}

// Insert writes an object outside of any transaction. The returned body
// must be written and closed, or abandoned.
func (c *Cache) Insert(key []byte, opts WriteOptions) (*body.Body, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	raw, err := opts.encode()
	if err != nil {
		return nil, err
	}
	h, err := c.host.CacheInsert(key, raw).Get()
	if err != nil {
		return nil, err
	}
	return body.Wrap(c.host, h), nil
}
