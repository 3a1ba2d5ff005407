package memhost

import (
	"encoding/base64"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
)

// MaxKVValue is the largest value a kv insert accepts.
const MaxKVValue = 30 * 1024 * 1024

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type kvItem struct {
	expires    time.Time
	value      []byte
	meta       []byte
	generation uint64
}

type kvStore struct {
	items map[string]*kvItem
	name  string
	gen   uint64
}

// kvPending is the outcome of a kv operation, released at readyAt.
type kvPending struct {
	readyAt time.Time
	err     error
	item    *kvItem
	page    hostcall.KVListPage
	op      string
}

func (p *kvPending) ready() bool {
	return !time.Now().Before(p.readyAt)
}

// AddKVStore creates a store if it does not exist.
func (h *Host) AddKVStore(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.kv[name]; !ok {
		h.kv[name] = &kvStore{name: name, items: map[string]*kvItem{}}
	}
}

func (h *Host) kvStore(s hostcall.KVStoreHandle) (*kvStore, error) {
	return get[*kvStore](h, resource.Handle(s), resource.KindKVStore)
}

func (h *Host) live(st *kvStore, key string) (*kvItem, bool) {
	it, ok := st.items[key]
	if !ok {
		return nil, false
	}
	if !it.expires.IsZero() && !h.now().Before(it.expires) {
		delete(st.items, key)
		return nil, false
	}
	return it, true
}

func (h *Host) pendKV(op string, st *kvStore, p *kvPending) (resource.Handle, error) {
	p.op = op
	p.readyAt = time.Now().Add(h.cfg.KVLatency)
	if h.cfg.KVLatency > 0 {
		time.AfterFunc(h.cfg.KVLatency, h.wake)
	}
	h.metrics.kvOp(st.name, op, p.err)
	return h.insert(resource.KindKVPending, p)
}

// awaitKV waits for a pending result and consumes its handle.
func (h *Host) awaitKV(handle resource.Handle, op string) (*kvPending, error) {
	p, err := get[*kvPending](h, handle, resource.KindKVPending)
	if err != nil {
		return nil, err
	}
	if p.op != op {
		return nil, errors.BadHandle("kv " + op)
	}
	if !h.waitUntil(p.readyAt, p.ready) && h.closed {
		return nil, h.errClosed()
	}
	h.table.Remove(handle)
	return p, p.err
}

func (h *Host) KVOpen(name string) hostcall.Result[hostcall.KVStoreHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.kv[name]
	if !ok {
		return hostcall.Fail[hostcall.KVStoreHandle](errors.OptionalNone())
	}
	handle, err := h.insert(resource.KindKVStore, st)
	return hostcall.FromError(hostcall.KVStoreHandle(handle), err)
}

func (h *Host) KVLookup(s hostcall.KVStoreHandle, key string) hostcall.Result[hostcall.KVLookupHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.kvStore(s)
	if err != nil {
		return hostcall.Fail[hostcall.KVLookupHandle](err)
	}
	p := &kvPending{}
	if it, ok := h.live(st, key); ok {
		p.item = &kvItem{value: slices.Clone(it.value), meta: slices.Clone(it.meta), generation: it.generation}
	} else {
		p.err = errors.KV(errors.KindNotFound, "")
	}
	handle, err := h.pendKV("lookup", st, p)
	return hostcall.FromError(hostcall.KVLookupHandle(handle), err)
}

func (h *Host) KVLookupWait(l hostcall.KVLookupHandle) hostcall.Result[hostcall.KVEntry] {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.awaitKV(resource.Handle(l), "lookup")
	if err != nil {
		return hostcall.Fail[hostcall.KVEntry](err)
	}
	b, err := h.newBody(p.item.value)
	if err != nil {
		return hostcall.Fail[hostcall.KVEntry](err)
	}
	return hostcall.Ok(hostcall.KVEntry{Body: b, Metadata: p.item.meta, Generation: p.item.generation})
}

func (h *Host) KVInsert(s hostcall.KVStoreHandle, key string, b hostcall.BodyHandle, opts hostcall.KVInsertOptions) hostcall.Result[hostcall.KVInsertHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.kvStore(s)
	if err != nil {
		return hostcall.Fail[hostcall.KVInsertHandle](err)
	}
	src, err := h.body(b)
	if err != nil {
		return hostcall.Fail[hostcall.KVInsertHandle](err)
	}
	if !h.waitUntil(zeroTime, func() bool {
		return !src.buf.streaming || src.buf.finished || src.buf.abandoned
	}) {
		return hostcall.Fail[hostcall.KVInsertHandle](h.errClosed())
	}
	value := slices.Clone(src.buf.data[src.pos:src.limit()])
	h.table.Remove(resource.Handle(b))

	p := &kvPending{err: h.kvWrite(st, key, value, opts)}
	handle, err := h.pendKV("insert", st, p)
	return hostcall.FromError(hostcall.KVInsertHandle(handle), err)
}

func (h *Host) kvWrite(st *kvStore, key string, value []byte, opts hostcall.KVInsertOptions) error {
	if key == "" {
		return errors.KV(errors.KindBadRequest, "empty key")
	}
	if len(value) > MaxKVValue {
		return errors.KV(errors.KindPayloadTooLarge, "")
	}
	cur, exists := h.live(st, key)
	if opts.IfGenerationMatch != nil && (!exists || cur.generation != *opts.IfGenerationMatch) {
		return errors.KV(errors.KindPreconditionFailed, "generation mismatch")
	}

	switch opts.Mode {
	case hostcall.KVInsertOverwrite:
	case hostcall.KVInsertAdd:
		if exists {
			return errors.KV(errors.KindPreconditionFailed, "key exists")
		}
	case hostcall.KVInsertAppend:
		if exists {
			value = append(slices.Clone(cur.value), value...)
		}
	case hostcall.KVInsertPrepend:
		if exists {
			value = append(value, cur.value...)
		}
	default:
		return errors.KV(errors.KindBadRequest, "unknown insert mode")
	}
	if len(value) > MaxKVValue {
		return errors.KV(errors.KindPayloadTooLarge, "")
	}

	st.gen++
	it := &kvItem{value: value, meta: slices.Clone(opts.Metadata), generation: st.gen}
	if opts.TTL > 0 {
		it.expires = h.now().Add(opts.TTL)
	}
	st.items[key] = it
	return nil
}

func (h *Host) KVInsertWait(i hostcall.KVInsertHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.awaitKV(resource.Handle(i), "insert")
	return err
}

func (h *Host) KVDelete(s hostcall.KVStoreHandle, key string) hostcall.Result[hostcall.KVDeleteHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.kvStore(s)
	if err != nil {
		return hostcall.Fail[hostcall.KVDeleteHandle](err)
	}
	p := &kvPending{}
	if _, ok := h.live(st, key); ok {
		delete(st.items, key)
	} else {
		p.err = errors.KV(errors.KindNotFound, "")
	}
	handle, err := h.pendKV("delete", st, p)
	return hostcall.FromError(hostcall.KVDeleteHandle(handle), err)
}

func (h *Host) KVDeleteWait(d hostcall.KVDeleteHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.awaitKV(resource.Handle(d), "delete")
	return err
}

func (h *Host) KVList(s hostcall.KVStoreHandle, opts hostcall.KVListOptions) hostcall.Result[hostcall.KVListHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.kvStore(s)
	if err != nil {
		return hostcall.Fail[hostcall.KVListHandle](err)
	}
	p := &kvPending{}
	p.page, p.err = h.kvPage(st, opts)
	handle, err := h.pendKV("list", st, p)
	return hostcall.FromError(hostcall.KVListHandle(handle), err)
}

func (h *Host) kvPage(st *kvStore, opts hostcall.KVListOptions) (hostcall.KVListPage, error) {
	var page hostcall.KVListPage
	after := ""
	if opts.Cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(opts.Cursor)
		if err != nil {
			return page, errors.KV(errors.KindBadRequest, "invalid cursor")
		}
		after = string(raw)
	}
	limit := int(opts.Limit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	keys := make([]string, 0, len(st.items))
	for k := range st.items {
		if _, ok := h.live(st, k); !ok {
			continue
		}
		if strings.HasPrefix(k, opts.Prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
		page.NextCursor = base64.RawURLEncoding.EncodeToString([]byte(keys[limit-1]))
	}
	page.Keys = keys
	return page, nil
}

func (h *Host) KVListWait(l hostcall.KVListHandle) hostcall.Result[hostcall.KVListPage] {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.awaitKV(resource.Handle(l), "list")
	if err != nil {
		return hostcall.Fail[hostcall.KVListPage](err)
	}
	return hostcall.Ok(p.page)
}
