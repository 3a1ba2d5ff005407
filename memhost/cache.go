package memhost

import (
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
	"go.uber.org/zap"
)

// variant is one cached object under a key, selected by its vary values.
type variant struct {
	buf        *bodyBuf
	inserted   time.Time
	expires    time.Time
	varyKey    map[string]string
	length     *uint64
	vary       []string
	surrogate  []string
	userMeta   []byte
	maxAge     time.Duration
	swr        time.Duration
	initialAge time.Duration
	hits       uint64
	sensitive  bool
}

func (v *variant) age(now time.Time) time.Duration {
	return v.initialAge + now.Sub(v.inserted)
}

func (v *variant) matches(hdrs http.Header) bool {
	for _, name := range v.vary {
		if joinValues(hdrs, name) != v.varyKey[name] {
			return false
		}
	}
	return true
}

func (v *variant) sameVariant(o *variant) bool {
	if !slices.Equal(v.vary, o.vary) {
		return false
	}
	for _, name := range v.vary {
		if v.varyKey[name] != o.varyKey[name] {
			return false
		}
	}
	return true
}

// fill is an in-flight refresh that collapsed lookups wait on.
type fill struct {
	resolved bool
	failed   bool
}

type cacheKey struct {
	fill     *fill
	variants []*variant
}

// match returns the newest variant selected by hdrs.
func (ck *cacheKey) match(hdrs http.Header) *variant {
	for i := len(ck.variants) - 1; i >= 0; i-- {
		if ck.variants[i].matches(hdrs) {
			return ck.variants[i]
		}
	}
	return nil
}

func (ck *cacheKey) install(v *variant) {
	ck.variants = slices.DeleteFunc(ck.variants, v.sameVariant)
	ck.variants = append(ck.variants, v)
}

func (ck *cacheKey) drop(v *variant) {
	ck.variants = slices.DeleteFunc(ck.variants, func(o *variant) bool { return o == v })
}

// cacheEntry is the host side of a cache handle.
type cacheEntry struct {
	ck      *cacheKey
	variant *variant
	owns    *fill
	hdrs    http.Header
	key     string
	state   hostcall.LookupState
	done    bool
}

type busyLookup struct {
	hdrs http.Header
	key  string
}

func joinValues(hdrs http.Header, name string) string {
	return strings.Join(hdrs.Values(name), ", ")
}

func (h *Host) variantState(v *variant, now time.Time) hostcall.LookupState {
	st := hostcall.LookupFound
	if now.Before(v.expires) {
		return st | hostcall.LookupUsable
	}
	st |= hostcall.LookupStale
	if now.Before(v.expires.Add(v.swr)) {
		st |= hostcall.LookupUsable
	}
	if now.Before(v.expires.Add(h.cfg.StaleIfError)) {
		st |= hostcall.LookupUsableIfError
	}
	return st
}

// expired reports whether v is past the last instant it could be served,
// stale or not.
func (h *Host) expired(v *variant, now time.Time) bool {
	return now.After(v.expires.Add(max(v.swr, h.cfg.StaleIfError)))
}

// matchLive drops the expired variants of ck and returns the one hdrs
// selects.
func (h *Host) matchLive(ck *cacheKey, hdrs http.Header, now time.Time) *variant {
	ck.variants = slices.DeleteFunc(ck.variants, func(v *variant) bool { return h.expired(v, now) })
	return ck.match(hdrs)
}

func (h *Host) key(key []byte) (string, error) {
	if len(key) == 0 || len(key) > hostcall.MaxCacheKeyLen {
		return "", errors.InvalidArgument("cache key length %d out of range", len(key))
	}
	return string(key), nil
}

func (h *Host) cacheKey(key string) *cacheKey {
	ck, ok := h.cache[key]
	if !ok {
		ck = &cacheKey{}
		h.cache[key] = ck
	}
	return ck
}

func (h *Host) lookupHeaders(opts hostcall.CacheLookupOptions) (http.Header, error) {
	if opts.Mask&hostcall.LookupOptRequestHeaders == 0 {
		return http.Header{}, nil
	}
	req, err := h.request(opts.RequestHeaders)
	if err != nil {
		return nil, err
	}
	return req.header.Clone(), nil
}

func (h *Host) entry(c hostcall.CacheHandle) (*cacheEntry, error) {
	return get[*cacheEntry](h, resource.Handle(c), resource.KindCacheEntry)
}

func (h *Host) newEntry(e *cacheEntry) (hostcall.CacheHandle, error) {
	handle, err := h.insert(resource.KindCacheEntry, e)
	return hostcall.CacheHandle(handle), err
}

func (h *Host) CacheLookup(key []byte, opts hostcall.CacheLookupOptions) hostcall.Result[hostcall.CacheHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, err := h.key(key)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	hdrs, err := h.lookupHeaders(opts)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}

	e := &cacheEntry{key: k, hdrs: hdrs}
	result := "miss"
	if ck, ok := h.cache[k]; ok {
		e.ck = ck
		now := h.now()
		if v := h.matchLive(ck, hdrs, now); v != nil {
			e.variant = v
			e.state = h.variantState(v, now)
			result = "stale"
			if e.state&hostcall.LookupUsable != 0 {
				v.hits++
				if e.state&hostcall.LookupStale == 0 {
					result = "hit"
				}
			}
		}
		if len(ck.variants) == 0 && ck.fill == nil {
			delete(h.cache, k)
		}
	}
	h.metrics.lookup("lookup", result)
	handle, err := h.newEntry(e)
	return hostcall.FromError(handle, err)
}

// txLookup runs the collapsing lookup. Callers hold h.mu; it may wait on
// the condition while another entry owns the refresh.
func (h *Host) txLookup(k string, hdrs http.Header) (*cacheEntry, error) {
	ck := h.cacheKey(k)
	collapsed := false
	for {
		if h.closed {
			return nil, h.errClosed()
		}
		now := h.now()
		e := &cacheEntry{key: k, ck: ck, hdrs: hdrs}
		v := h.matchLive(ck, hdrs, now)
		if v != nil {
			e.variant = v
			st := h.variantState(v, now)
			if st&hostcall.LookupUsable != 0 {
				v.hits++
				if st&hostcall.LookupStale != 0 && ck.fill == nil {
					ck.fill = &fill{}
					e.owns = ck.fill
					st |= hostcall.LookupMustInsertOrUpdate
				}
				e.state = st
				h.metrics.lookup("transaction", stateResult(st))
				return e, nil
			}
		}
		if ck.fill == nil {
			ck.fill = &fill{}
			e.owns = ck.fill
			e.state = hostcall.LookupMustInsertOrUpdate
			if v != nil {
				e.state |= h.variantState(v, now)
			}
			h.metrics.lookup("transaction", stateResult(e.state))
			return e, nil
		}

		f := ck.fill
		if !collapsed {
			collapsed = true
			h.metrics.collapsed()
		}
		if !h.waitUntil(zeroTime, func() bool { return f.resolved }) {
			return nil, h.errClosed()
		}
		if f.failed {
			e.state = hostcall.LookupCollapseError
			now := h.now()
			if v := h.matchLive(ck, hdrs, now); v != nil {
				e.variant = v
				e.state |= h.variantState(v, now)
			}
			h.metrics.lookup("transaction", "collapse_error")
			return e, nil
		}
	}
}

func stateResult(st hostcall.LookupState) string {
	switch {
	case st&hostcall.LookupMustInsertOrUpdate != 0 && st&hostcall.LookupFound == 0:
		return "miss"
	case st&hostcall.LookupMustInsertOrUpdate != 0:
		return "revalidate"
	case st&hostcall.LookupStale != 0:
		return "stale"
	default:
		return "hit"
	}
}

// wouldBlock reports whether a collapsing lookup would wait right now.
func (h *Host) wouldBlock(k string, hdrs http.Header) bool {
	ck, ok := h.cache[k]
	if !ok || ck.fill == nil || ck.fill.resolved {
		return false
	}
	if v := ck.match(hdrs); v != nil {
		return h.variantState(v, h.now())&hostcall.LookupUsable == 0
	}
	return true
}

func (h *Host) CacheTransactionLookup(key []byte, opts hostcall.CacheLookupOptions) hostcall.Result[hostcall.CacheHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, err := h.key(key)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	hdrs, err := h.lookupHeaders(opts)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	e, err := h.txLookup(k, hdrs)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	handle, err := h.newEntry(e)
	return hostcall.FromError(handle, err)
}

func (h *Host) CacheTransactionLookupAsync(key []byte, opts hostcall.CacheLookupOptions) hostcall.Result[hostcall.CacheBusyHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, err := h.key(key)
	if err != nil {
		return hostcall.Fail[hostcall.CacheBusyHandle](err)
	}
	hdrs, err := h.lookupHeaders(opts)
	if err != nil {
		return hostcall.Fail[hostcall.CacheBusyHandle](err)
	}
	handle, err := h.insert(resource.KindCacheBusy, &busyLookup{key: k, hdrs: hdrs})
	if err != nil {
		return hostcall.Fail[hostcall.CacheBusyHandle](err)
	}
	return hostcall.Ok(hostcall.CacheBusyHandle(handle))
}

func (h *Host) CacheBusyHandleWait(b hostcall.CacheBusyHandle) hostcall.Result[hostcall.CacheHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	busy, err := get[*busyLookup](h, resource.Handle(b), resource.KindCacheBusy)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	h.table.Remove(resource.Handle(b))
	e, err := h.txLookup(busy.key, busy.hdrs)
	if err != nil {
		return hostcall.Fail[hostcall.CacheHandle](err)
	}
	handle, err := h.newEntry(e)
	return hostcall.FromError(handle, err)
}

// newVariant builds an object from write options. The body buffer streams:
// readers see bytes as they are written.
func (h *Host) newVariant(opts hostcall.CacheWriteOptions, hdrs http.Header) (*variant, error) {
	if opts.MaxAgeNs > math.MaxInt64 || opts.InitialAgeNs > math.MaxInt64 || opts.StaleWhileRevalidateNs > math.MaxInt64 {
		return nil, errors.InvalidArgument("duration exceeds 63 bits")
	}
	now := h.now()
	v := &variant{
		buf:      &bodyBuf{streaming: true},
		inserted: now,
		maxAge:   time.Duration(opts.MaxAgeNs),
		varyKey:  map[string]string{},
	}
	if opts.Has(hostcall.WriteOptInitialAge) {
		v.initialAge = time.Duration(opts.InitialAgeNs)
	}
	v.expires = now.Add(v.maxAge - v.initialAge)
	if opts.Has(hostcall.WriteOptStaleWhileRevalidate) {
		v.swr = time.Duration(opts.StaleWhileRevalidateNs)
	}
	if opts.Has(hostcall.WriteOptRequestHeaders) {
		req, err := h.request(opts.RequestHeaders)
		if err != nil {
			return nil, err
		}
		hdrs = req.header
	}
	if opts.Has(hostcall.WriteOptVaryRule) {
		for _, name := range strings.Fields(opts.VaryRule) {
			name = strings.ToLower(name)
			v.vary = append(v.vary, name)
			if hdrs != nil {
				v.varyKey[name] = joinValues(hdrs, name)
			}
		}
	}
	if opts.Has(hostcall.WriteOptSurrogateKeys) {
		v.surrogate = strings.Fields(opts.SurrogateKeys)
	}
	if opts.Has(hostcall.WriteOptLength) {
		n := opts.Length
		v.length = &n
		v.buf.length = &n
	}
	if opts.Has(hostcall.WriteOptUserMetadata) {
		v.userMeta = append([]byte{}, opts.UserMetadata...)
	}
	v.sensitive = opts.Has(hostcall.WriteOptSensitiveData)
	return v, nil
}

// installVariant stores v under ck and returns its writer handle. An
// abandoned or short write removes the object again.
func (h *Host) installVariant(ck *cacheKey, v *variant) (hostcall.BodyHandle, error) {
	ck.install(v)
	v.buf.onFinish = func(ok bool) {
		if !ok {
			ck.drop(v)
			h.logger.Debug("cache object discarded before completion")
		}
	}
	return h.newBodyRef(v.buf, true, 0, -1)
}

func (h *Host) CacheInsert(key []byte, opts hostcall.CacheWriteOptions) hostcall.Result[hostcall.BodyHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, err := h.key(key)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	v, err := h.newVariant(opts, nil)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	h.metrics.write("insert")
	w, err := h.installVariant(h.cacheKey(k), v)
	return hostcall.FromError(w, err)
}

// owner returns the entry if it still owes its key a refresh.
func (h *Host) owner(c hostcall.CacheHandle) (*cacheEntry, error) {
	e, err := h.entry(c)
	if err != nil {
		return nil, err
	}
	if e.owns == nil || e.done {
		return nil, errors.InvalidArgument("cache transaction does not own a pending refresh")
	}
	return e, nil
}

// resolve completes the entry's refresh and wakes collapsed waiters.
func (h *Host) resolve(e *cacheEntry, failed bool) {
	e.done = true
	f := e.owns
	f.resolved, f.failed = true, failed
	if e.ck.fill == f {
		e.ck.fill = nil
	}
	h.cond.Broadcast()
}

func (h *Host) CacheTransactionInsert(c hostcall.CacheHandle, opts hostcall.CacheWriteOptions) hostcall.Result[hostcall.BodyHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.owner(c)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	v, err := h.newVariant(opts, e.hdrs)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	w, err := h.installVariant(e.ck, v)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	h.resolve(e, false)
	h.metrics.write("transaction_insert")
	h.logger.Debug("cache insert", zap.String("key", e.key))
	return hostcall.Ok(w)
}

func (h *Host) CacheTransactionInsertAndStreamBack(c hostcall.CacheHandle, opts hostcall.CacheWriteOptions) hostcall.Result[hostcall.InsertStreamBack] {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.owner(c)
	if err != nil {
		return hostcall.Fail[hostcall.InsertStreamBack](err)
	}
	if opts.Has(hostcall.WriteOptRequestHeaders) {
		return hostcall.Fail[hostcall.InsertStreamBack](errors.InvalidArgument("request headers are not accepted with stream back"))
	}
	v, err := h.newVariant(opts, e.hdrs)
	if err != nil {
		return hostcall.Fail[hostcall.InsertStreamBack](err)
	}
	w, err := h.installVariant(e.ck, v)
	if err != nil {
		return hostcall.Fail[hostcall.InsertStreamBack](err)
	}
	back, err := h.newEntry(&cacheEntry{
		key:     e.key,
		ck:      e.ck,
		variant: v,
		hdrs:    e.hdrs,
		state:   hostcall.LookupFound | hostcall.LookupUsable,
	})
	if err != nil {
		return hostcall.Fail[hostcall.InsertStreamBack](err)
	}
	h.resolve(e, false)
	h.metrics.write("transaction_insert_and_stream_back")
	return hostcall.Ok(hostcall.InsertStreamBack{Body: w, Entry: back})
}

func (h *Host) CacheTransactionUpdate(c hostcall.CacheHandle, opts hostcall.CacheWriteOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.owner(c)
	if err != nil {
		return err
	}
	old := e.variant
	if old == nil || !slices.Contains(e.ck.variants, old) {
		return errors.InvalidArgument("no cached object to update")
	}
	v, err := h.newVariant(opts, e.hdrs)
	if err != nil {
		return err
	}
	old.inserted, old.expires = v.inserted, v.expires
	old.maxAge, old.initialAge, old.swr = v.maxAge, v.initialAge, v.swr
	if opts.Has(hostcall.WriteOptVaryRule) {
		old.vary, old.varyKey = v.vary, v.varyKey
	}
	if opts.Has(hostcall.WriteOptSurrogateKeys) {
		old.surrogate = v.surrogate
	}
	if opts.Has(hostcall.WriteOptUserMetadata) {
		old.userMeta = v.userMeta
	}
	old.sensitive = v.sensitive
	h.resolve(e, false)
	h.metrics.write("transaction_update")
	return nil
}

func (h *Host) CacheTransactionCancel(c hostcall.CacheHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.owner(c)
	if err != nil {
		return err
	}
	h.resolve(e, false)
	h.logger.Debug("cache transaction cancelled", zap.String("key", e.key))
	return nil
}

// CacheClose releases the entry. An owner that never completed its
// transaction fails the refresh for everyone waiting on it.
func (h *Host) CacheClose(c hostcall.CacheHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.entry(c)
	if err != nil {
		return err
	}
	h.table.Remove(resource.Handle(c))
	if e.owns != nil && !e.done {
		h.logger.Warn("cache transaction closed without completing", zap.String("key", e.key))
		h.resolve(e, true)
	}
	return nil
}

func (h *Host) CacheGetState(c hostcall.CacheHandle) hostcall.Result[hostcall.LookupState] {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.entry(c)
	if err != nil {
		return hostcall.Fail[hostcall.LookupState](err)
	}
	return hostcall.Ok(e.state)
}

// withVariant runs fn on the entry's object; entries without one report
// optional_none.
func withVariant[T any](h *Host, c hostcall.CacheHandle, fn func(*variant) (T, error)) hostcall.Result[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.entry(c)
	if err != nil {
		return hostcall.Fail[T](err)
	}
	if e.variant == nil {
		return hostcall.Fail[T](errors.OptionalNone())
	}
	out, err := fn(e.variant)
	return hostcall.FromError(out, err)
}

func fitBuffer[T ~string | ~[]byte](v T, maxLen uint32) (T, error) {
	if len(v) > int(maxLen) {
		var zero T
		return zero, errors.BufferLen(len(v))
	}
	return v, nil
}

func (h *Host) CacheGetUserMetadata(c hostcall.CacheHandle, maxLen uint32) hostcall.Result[[]byte] {
	return withVariant(h, c, func(v *variant) ([]byte, error) {
		return fitBuffer(append([]byte{}, v.userMeta...), maxLen)
	})
}

func (h *Host) CacheGetBody(c hostcall.CacheHandle, rng hostcall.BodyRange) hostcall.Result[hostcall.BodyHandle] {
	return withVariant(h, c, func(v *variant) (hostcall.BodyHandle, error) {
		if v.buf.abandoned {
			return hostcall.InvalidBody, errors.OptionalNone()
		}
		start, end := 0, -1
		if rng.Mask&hostcall.GetBodyOptStart != 0 {
			start = int(rng.Start)
		}
		if rng.Mask&hostcall.GetBodyOptEnd != 0 {
			end = int(rng.End)
		}
		if end >= 0 && end < start {
			return hostcall.InvalidBody, errors.InvalidArgument("range end before start")
		}
		return h.newBodyRef(v.buf, false, start, end)
	})
}

func (h *Host) CacheGetLength(c hostcall.CacheHandle) hostcall.Result[uint64] {
	return withVariant(h, c, func(v *variant) (uint64, error) {
		switch {
		case v.length != nil:
			return *v.length, nil
		case v.buf.finished:
			return uint64(len(v.buf.data)), nil
		default:
			return 0, errors.OptionalNone()
		}
	})
}

func (h *Host) CacheGetMaxAgeNs(c hostcall.CacheHandle) hostcall.Result[uint64] {
	return withVariant(h, c, func(v *variant) (uint64, error) { return uint64(v.maxAge), nil })
}

func (h *Host) CacheGetStaleWhileRevalidateNs(c hostcall.CacheHandle) hostcall.Result[uint64] {
	return withVariant(h, c, func(v *variant) (uint64, error) { return uint64(v.swr), nil })
}

func (h *Host) CacheGetAgeNs(c hostcall.CacheHandle) hostcall.Result[uint64] {
	return withVariant(h, c, func(v *variant) (uint64, error) {
		return uint64(max(v.age(h.now()), 0)), nil
	})
}

func (h *Host) CacheGetHits(c hostcall.CacheHandle) hostcall.Result[uint64] {
	return withVariant(h, c, func(v *variant) (uint64, error) { return v.hits, nil })
}

func (h *Host) CacheGetSensitiveData(c hostcall.CacheHandle) hostcall.Result[bool] {
	return withVariant(h, c, func(v *variant) (bool, error) { return v.sensitive, nil })
}

func (h *Host) CacheGetSurrogateKeys(c hostcall.CacheHandle, maxLen uint32) hostcall.Result[string] {
	return withVariant(h, c, func(v *variant) (string, error) {
		return fitBuffer(strings.Join(v.surrogate, " "), maxLen)
	})
}

func (h *Host) CacheGetVaryRule(c hostcall.CacheHandle, maxLen uint32) hostcall.Result[string] {
	return withVariant(h, c, func(v *variant) (string, error) {
		return fitBuffer(strings.Join(v.vary, " "), maxLen)
	})
}

// PurgeSurrogateKey removes, or with PurgeSoft marks stale, every object
// tagged with key.
func (h *Host) PurgeSurrogateKey(key string, opts hostcall.PurgeOptionsMask) error {
	if key == "" {
		return errors.InvalidArgument("surrogate key is empty")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	soft := opts&hostcall.PurgeSoft != 0
	now := h.now()
	purged := 0
	for k, ck := range h.cache {
		for _, v := range slices.Clone(ck.variants) {
			if !slices.Contains(v.surrogate, key) {
				continue
			}
			purged++
			if soft {
				if now.Before(v.expires) {
					v.expires = now
				}
				continue
			}
			ck.drop(v)
		}
		if len(ck.variants) == 0 && ck.fill == nil {
			delete(h.cache, k)
		}
	}
	h.metrics.purge(soft)
	h.logger.Info("surrogate key purged", zap.String("key", key), zap.Bool("soft", soft), zap.Int("objects", purged))
	return nil
}

// CachedObject describes a cached object for inspection.
type CachedObject struct {
	Key           string
	SurrogateKeys []string
	Vary          []string
	Age           time.Duration
	MaxAge        time.Duration
	Size          int
	Hits          uint64
	Complete      bool
}

// Objects lists every cached object, sorted by key.
func (h *Host) Objects() []CachedObject {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var out []CachedObject
	for k, ck := range h.cache {
		ck.variants = slices.DeleteFunc(ck.variants, func(v *variant) bool { return h.expired(v, now) })
		for _, v := range ck.variants {
			out = append(out, CachedObject{
				Key:           k,
				SurrogateKeys: slices.Clone(v.surrogate),
				Vary:          slices.Clone(v.vary),
				Age:           v.age(now),
				MaxAge:        v.maxAge,
				Size:          len(v.buf.data),
				Hits:          v.hits,
				Complete:      v.buf.finished,
			})
		}
	}
	slices.SortFunc(out, func(a, b CachedObject) int { return strings.Compare(a.Key, b.Key) })
	return out
}
