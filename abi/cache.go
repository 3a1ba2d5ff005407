package abi

import "github.com/wippyai/edgecache/hostcall"

type keyedLookup func(key []byte, opts hostcall.CacheLookupOptions) (uint32, error)

// defLookup exports a (key_ptr, key_len, options_mask, options, handle_out)
// function.
func (e *Exporter) defLookup(m *Module, name string, fn keyedLookup) {
	e.def(m, name, 5, func(g guest, a []uint64) error {
		key, err := g.bytes(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		opts, err := g.lookupOptions(arg(a, 2), arg(a, 3))
		if err != nil {
			return putHandle(g, arg(a, 4), uint32(0), err)
		}
		handle, err := fn(key, opts)
		return putHandle(g, arg(a, 4), handle, err)
	})
}

// defU64 exports a (handle, u64_out) getter.
func (e *Exporter) defU64(m *Module, name string, get func(hostcall.CacheHandle) hostcall.Result[uint64]) {
	e.def(m, name, 2, func(g guest, a []uint64) error {
		v, err := get(hostcall.CacheHandle(arg(a, 0))).Get()
		if err != nil {
			return err
		}
		return g.putU64(arg(a, 1), v)
	})
}

// defBuffer exports a (handle, buf, buf_len, nwritten_out) getter.
func (e *Exporter) defBuffer(m *Module, name string, get func(hostcall.CacheHandle, uint32) ([]byte, error)) {
	e.def(m, name, 4, func(g guest, a []uint64) error {
		data, err := get(hostcall.CacheHandle(arg(a, 0)), arg(a, 2))
		return g.putBuffer(arg(a, 1), arg(a, 2), arg(a, 3), data, err)
	})
}

func (e *Exporter) cacheModule() *Module {
	m := newModule(ModuleCache)
	h := e.host

	e.defLookup(m, "lookup", func(key []byte, opts hostcall.CacheLookupOptions) (uint32, error) {
		c, err := h.CacheLookup(key, opts).Get()
		return uint32(c), err
	})
	e.defLookup(m, "transaction_lookup", func(key []byte, opts hostcall.CacheLookupOptions) (uint32, error) {
		c, err := h.CacheTransactionLookup(key, opts).Get()
		return uint32(c), err
	})
	e.defLookup(m, "transaction_lookup_async", func(key []byte, opts hostcall.CacheLookupOptions) (uint32, error) {
		b, err := h.CacheTransactionLookupAsync(key, opts).Get()
		return uint32(b), err
	})

	// insert(key_ptr, key_len, options_mask, options, body_handle_out)
	e.def(m, "insert", 5, func(g guest, a []uint64) error {
		key, err := g.bytes(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		opts, err := g.writeOptions(arg(a, 2), arg(a, 3))
		if err != nil {
			return putHandle(g, arg(a, 4), hostcall.InvalidBody, err)
		}
		b, err := h.CacheInsert(key, opts).Get()
		return putHandle(g, arg(a, 4), b, err)
	})

	// cache_busy_handle_wait(busy, cache_handle_out)
	e.def(m, "cache_busy_handle_wait", 2, func(g guest, a []uint64) error {
		c, err := h.CacheBusyHandleWait(hostcall.CacheBusyHandle(arg(a, 0))).Get()
		return putHandle(g, arg(a, 1), c, err)
	})

	// transaction_insert(handle, options_mask, options, body_handle_out)
	e.def(m, "transaction_insert", 4, func(g guest, a []uint64) error {
		opts, err := g.writeOptions(arg(a, 1), arg(a, 2))
		if err != nil {
			return putHandle(g, arg(a, 3), hostcall.InvalidBody, err)
		}
		b, err := h.CacheTransactionInsert(hostcall.CacheHandle(arg(a, 0)), opts).Get()
		return putHandle(g, arg(a, 3), b, err)
	})

	// transaction_insert_and_stream_back(handle, options_mask, options,
	// body_handle_out, cache_handle_out)
	e.def(m, "transaction_insert_and_stream_back", 5, func(g guest, a []uint64) error {
		opts, err := g.writeOptions(arg(a, 1), arg(a, 2))
		var out hostcall.InsertStreamBack
		if err == nil {
			out, err = h.CacheTransactionInsertAndStreamBack(hostcall.CacheHandle(arg(a, 0)), opts).Get()
		}
		if err != nil {
			_ = putHandle(g, arg(a, 4), out.Entry, err)
			return putHandle(g, arg(a, 3), out.Body, err)
		}
		if err := g.putU32(arg(a, 3), uint32(out.Body)); err != nil {
			return err
		}
		return g.putU32(arg(a, 4), uint32(out.Entry))
	})

	// transaction_update(handle, options_mask, options)
	e.def(m, "transaction_update", 3, func(g guest, a []uint64) error {
		opts, err := g.writeOptions(arg(a, 1), arg(a, 2))
		if err != nil {
			return err
		}
		return h.CacheTransactionUpdate(hostcall.CacheHandle(arg(a, 0)), opts)
	})

	e.def(m, "transaction_cancel", 1, func(g guest, a []uint64) error {
		return h.CacheTransactionCancel(hostcall.CacheHandle(arg(a, 0)))
	})

	e.def(m, "close", 1, func(g guest, a []uint64) error {
		return h.CacheClose(hostcall.CacheHandle(arg(a, 0)))
	})

	// get_state(handle, state_out)
	e.def(m, "get_state", 2, func(g guest, a []uint64) error {
		st, err := h.CacheGetState(hostcall.CacheHandle(arg(a, 0))).Get()
		if err != nil {
			return err
		}
		return g.putU32(arg(a, 1), uint32(st))
	})

	// get_body(handle, options_mask, options, body_handle_out)
	e.def(m, "get_body", 4, func(g guest, a []uint64) error {
		rng, err := g.bodyRange(arg(a, 1), arg(a, 2))
		if err != nil {
			return putHandle(g, arg(a, 3), hostcall.InvalidBody, err)
		}
		b, err := h.CacheGetBody(hostcall.CacheHandle(arg(a, 0)), rng).Get()
		return putHandle(g, arg(a, 3), b, err)
	})

	e.defU64(m, "get_length", h.CacheGetLength)
	e.defU64(m, "get_max_age_ns", h.CacheGetMaxAgeNs)
	e.defU64(m, "get_stale_while_revalidate_ns", h.CacheGetStaleWhileRevalidateNs)
	e.defU64(m, "get_age_ns", h.CacheGetAgeNs)
	e.defU64(m, "get_hits", h.CacheGetHits)

	// get_sensitive_data(handle, sensitive_out)
	e.def(m, "get_sensitive_data", 2, func(g guest, a []uint64) error {
		v, err := h.CacheGetSensitiveData(hostcall.CacheHandle(arg(a, 0))).Get()
		if err != nil {
			return err
		}
		return g.putBool(arg(a, 1), v)
	})

	e.defBuffer(m, "get_user_metadata", func(c hostcall.CacheHandle, n uint32) ([]byte, error) {
		return h.CacheGetUserMetadata(c, n).Get()
	})
	e.defBuffer(m, "get_surrogate_keys", func(c hostcall.CacheHandle, n uint32) ([]byte, error) {
		s, err := h.CacheGetSurrogateKeys(c, n).Get()
		return []byte(s), err
	})
	e.defBuffer(m, "get_vary_rule", func(c hostcall.CacheHandle, n uint32) ([]byte, error) {
		s, err := h.CacheGetVaryRule(c, n).Get()
		return []byte(s), err
	})
	return m
}
