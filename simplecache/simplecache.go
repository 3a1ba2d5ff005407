package simplecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/cache"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Host is the part of the host ABI the simple cache uses.
type Host interface {
	cache.Host
	hostcall.Purge
}

// Cache is a get/set/delete view of the host cache. Every object it
// writes carries one surrogate key derived from its cache key, which is
// how Delete finds it again.
type Cache struct {
	host Host
	core *cache.Cache
}

// New creates a simple cache.
func New(host Host) *Cache {
	return &Cache{host: host, core: cache.New(host)}
}

// Entry is a cached value read in full.
type Entry struct {
	Key    string
	Body   []byte
	MaxAge time.Duration
	Age    time.Duration
}

// Text returns the body as a string.
func (e *Entry) Text() string { return string(e.Body) }

// JSON decodes the body into v.
func (e *Entry) JSON(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode cached %q: %w", e.Key, err)
	}
	return nil
}

// SurrogateKey derives the purge key of a simple cache key: the uppercase
// hex SHA-256 digest of the key bytes.
func SurrogateKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return errors.InvalidInput("key", "key is empty")
	}
	if len(key) > cache.MaxKeyLen {
		return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Path("key").
			Value(len(key)).
			Detail("key is %d bytes, limit is %d", len(key), cache.MaxKeyLen).
			Build()
	}
	if ttl <= 0 {
		return errors.InvalidInput("ttl", "must be positive")
	}
	return nil
}

func writeOptions(key string, ttl time.Duration) cache.WriteOptions {
	return cache.WriteOptions{
		MaxAge:        ttl,
		SurrogateKeys: []string{SurrogateKey(key)},
	}
}

// Get returns the cached value for key, or nil when there is none.
func (c *Cache) Get(key string) (*Entry, error) {
	if key == "" {
		return nil, errors.InvalidInput("key", "key is empty")
	}
	e, err := c.core.Lookup([]byte(key), cache.LookupOptions{})
	if err != nil || e == nil {
		return nil, err
	}
	defer e.Close()
	st, err := e.State()
	if err != nil {
		return nil, err
	}
	if !st.Usable() {
		return nil, nil
	}
	return read(key, e)
}

func read(key string, e *cache.Entry) (*Entry, error) {
	b, err := e.Body(cache.Range{})
	if err != nil {
		return nil, err
	}
	if !b.Valid() {
		return nil, nil
	}
	data, err := b.ReadAll()
	if err != nil {
		return nil, err
	}
	out := &Entry{Key: key, Body: data}
	if out.MaxAge, err = e.MaxAge(); err != nil {
		return nil, err
	}
	if out.Age, err = e.Age(); err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	if err := validate(key, ttl); err != nil {
		return err
	}
	opts := writeOptions(key, ttl)
	opts.Length = cache.Len(uint64(len(value)))
	w, err := c.core.Insert([]byte(key), opts)
	if err != nil {
		return err
	}
	return finish(w, func() error {
		_, err := w.WriteAllBack(value)
		return err
	})
}

// SetStream stores length bytes read from r under key for ttl. The host
// needs the length of a streamed object before the first byte.
func (c *Cache) SetStream(key string, r io.Reader, length uint64, ttl time.Duration) error {
	if err := validate(key, ttl); err != nil {
		return err
	}
	if r == nil {
		return errors.InvalidInput("value", "reader is nil")
	}
	opts := writeOptions(key, ttl)
	opts.Length = cache.Len(length)
	w, err := c.core.Insert([]byte(key), opts)
	if err != nil {
		return err
	}
	return finish(w, func() error {
		n, err := io.Copy(w.Writer(), io.LimitReader(r, int64(length)))
		if err != nil {
			return err
		}
		if uint64(n) != length {
			return errors.InvalidInput("length", "stream ended after %d of %d bytes", n, length)
		}
		return nil
	})
}

// finish commits w when fill succeeds and abandons it otherwise.
func finish(w *body.Body, fill func() error) error {
	if err := fill(); err != nil {
		if aerr := w.Abandon(); aerr != nil {
			Logger().Warn("abandon cache body", zap.Error(aerr))
		}
		return err
	}
	return w.Close()
}

// Delete removes the value stored under key. It hard-purges the derived
// surrogate key, so every object carrying that key goes.
func (c *Cache) Delete(key string) error {
	if key == "" {
		return errors.InvalidInput("key", "key is empty")
	}
	sk := SurrogateKey(key)
	if err := c.host.PurgeSurrogateKey(sk, 0); err != nil {
		return err
	}
	Logger().Debug("simple cache delete", zap.String("key", key), zap.String("surrogate_key", sk))
	return nil
}

// FillFunc produces a value and its ttl for GetOrSet.
type FillFunc func() ([]byte, time.Duration, error)

// GetOrSet returns the cached value for key. On a miss exactly one
// concurrent caller runs fill and stores the result; the others wait for
// it. When that fill fails the waiters run fill themselves without
// storing.
func (c *Cache) GetOrSet(key string, fill FillFunc) (*Entry, error) {
	if key == "" {
		return nil, errors.InvalidInput("key", "key is empty")
	}
	tx, err := c.core.TransactionLookup([]byte(key), cache.LookupOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	st, err := tx.State()
	if err != nil {
		return nil, err
	}
	switch {
	case st.MustInsertOrUpdate():
		return c.fill(key, tx, fill)
	case st.Usable():
		return read(key, tx.Entry)
	default:
		Logger().Debug("collapsed fill failed, filling locally", zap.String("key", key), zap.Stringer("state", st))
		value, ttl, err := fill()
		if err != nil {
			return nil, err
		}
		return &Entry{Key: key, Body: value, MaxAge: ttl}, nil
	}
}

func (c *Cache) fill(key string, tx *cache.Transaction, fill FillFunc) (*Entry, error) {
	value, ttl, err := fill()
	if err == nil {
		err = validate(key, ttl)
	}
	if err != nil {
		if cerr := tx.Cancel(); cerr != nil {
			Logger().Warn("cancel cache transaction", zap.Error(cerr))
		}
		return nil, err
	}
	opts := writeOptions(key, ttl)
	opts.Length = cache.Len(uint64(len(value)))
	w, err := tx.Insert(opts)
	if err != nil {
		return nil, err
	}
	if err := finish(w, func() error {
		_, err := w.WriteAllBack(value)
		return err
	}); err != nil {
		return nil, err
	}
	return &Entry{Key: key, Body: value, MaxAge: ttl}, nil
}
