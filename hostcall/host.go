package hostcall

import "time"

// HTTPBody is the fastly_http_body module.
type HTTPBody interface {
	BodyNew() Result[BodyHandle]
	// BodyRead returns at most chunk bytes. An empty slice means EOF.
	BodyRead(h BodyHandle, chunk uint32) Result[[]byte]
	// BodyWrite may accept fewer bytes than given; the count is returned.
	BodyWrite(h BodyHandle, data []byte, end BodyEnd) Result[uint32]
	// BodyAppend moves the remaining content of src onto dst and consumes src.
	BodyAppend(dst, src BodyHandle) error
	BodyKnownLength(h BodyHandle) Result[uint64]
	BodyClose(h BodyHandle) error
	BodyAbandon(h BodyHandle) error
}

// HTTPReq is the fastly_http_req module.
type HTTPReq interface {
	ReqNew() Result[RequestHandle]
	ReqMethodGet(h RequestHandle) Result[string]
	ReqMethodSet(h RequestHandle, method string) error
	ReqURIGet(h RequestHandle) Result[string]
	ReqURISet(h RequestHandle, uri string) error
	ReqHeaderNames(h RequestHandle) Result[[]string]
	ReqHeaderValues(h RequestHandle, name string) Result[[]string]
	ReqHeaderInsert(h RequestHandle, name, value string) error
	ReqHeaderAppend(h RequestHandle, name, value string) error
	ReqHeaderRemove(h RequestHandle, name string) error
	// ReqSendAsync consumes the request and body handles.
	ReqSendAsync(h RequestHandle, body BodyHandle, backend string) Result[PendingRequestHandle]
	ReqPendingWait(p PendingRequestHandle) Result[ResponsePair]
	ReqClose(h RequestHandle) error
}

// HTTPResp is the fastly_http_resp module.
type HTTPResp interface {
	RespNew() Result[ResponseHandle]
	RespStatusGet(h ResponseHandle) Result[uint16]
	RespStatusSet(h ResponseHandle, status uint16) error
	RespHeaderNames(h ResponseHandle) Result[[]string]
	RespHeaderValues(h ResponseHandle, name string) Result[[]string]
	RespHeaderInsert(h ResponseHandle, name, value string) error
	RespHeaderAppend(h ResponseHandle, name, value string) error
	RespHeaderRemove(h ResponseHandle, name string) error
	RespClose(h ResponseHandle) error
}

// Cache is the fastly_cache module.
type Cache interface {
	CacheLookup(key []byte, opts CacheLookupOptions) Result[CacheHandle]
	CacheInsert(key []byte, opts CacheWriteOptions) Result[BodyHandle]
	CacheTransactionLookup(key []byte, opts CacheLookupOptions) Result[CacheHandle]
	CacheTransactionLookupAsync(key []byte, opts CacheLookupOptions) Result[CacheBusyHandle]
	CacheBusyHandleWait(h CacheBusyHandle) Result[CacheHandle]
	CacheTransactionInsert(h CacheHandle, opts CacheWriteOptions) Result[BodyHandle]
	CacheTransactionInsertAndStreamBack(h CacheHandle, opts CacheWriteOptions) Result[InsertStreamBack]
	CacheTransactionUpdate(h CacheHandle, opts CacheWriteOptions) error
	CacheTransactionCancel(h CacheHandle) error
	CacheClose(h CacheHandle) error
	CacheGetState(h CacheHandle) Result[LookupState]
	CacheGetUserMetadata(h CacheHandle, maxLen uint32) Result[[]byte]
	CacheGetBody(h CacheHandle, rng BodyRange) Result[BodyHandle]
	CacheGetLength(h CacheHandle) Result[uint64]
	CacheGetMaxAgeNs(h CacheHandle) Result[uint64]
	CacheGetStaleWhileRevalidateNs(h CacheHandle) Result[uint64]
	CacheGetAgeNs(h CacheHandle) Result[uint64]
	CacheGetHits(h CacheHandle) Result[uint64]
	CacheGetSensitiveData(h CacheHandle) Result[bool]
	// CacheGetSurrogateKeys and CacheGetVaryRule return space-joined
	// buffers; buffer_len reports the size needed.
	CacheGetSurrogateKeys(h CacheHandle, maxLen uint32) Result[string]
	CacheGetVaryRule(h CacheHandle, maxLen uint32) Result[string]
}

// AsyncIO is the fastly_async_io module.
type AsyncIO interface {
	// AsyncSelect blocks until one handle is ready and returns its index,
	// or NoReadyIndex once timeoutMs elapsed. A zero timeout blocks
	// indefinitely.
	AsyncSelect(handles []AsyncHandle, timeoutMs uint32) Result[uint32]
	AsyncIsReady(h AsyncHandle) Result[bool]
}

// Purge is the fastly_purge module.
type Purge interface {
	PurgeSurrogateKey(key string, opts PurgeOptionsMask) error
}

// KVStore is the fastly_kv_store module. Every operation is two-phase.
type KVStore interface {
	KVOpen(name string) Result[KVStoreHandle]
	KVLookup(store KVStoreHandle, key string) Result[KVLookupHandle]
	// KVLookupWait yields not_found when the key is absent.
	KVLookupWait(h KVLookupHandle) Result[KVEntry]
	KVInsert(store KVStoreHandle, key string, body BodyHandle, opts KVInsertOptions) Result[KVInsertHandle]
	KVInsertWait(h KVInsertHandle) error
	KVDelete(store KVStoreHandle, key string) Result[KVDeleteHandle]
	KVDeleteWait(h KVDeleteHandle) error
	KVList(store KVStoreHandle, opts KVListOptions) Result[KVListHandle]
	KVListWait(h KVListHandle) Result[KVListPage]
}

// SecretStore is the fastly_secret_store module.
type SecretStore interface {
	SecretStoreOpen(name string) Result[SecretStoreHandle]
	SecretStoreGet(store SecretStoreHandle, key string) Result[SecretHandle]
	SecretPlaintext(h SecretHandle, maxLen uint32) Result[[]byte]
	SecretFromBytes(plaintext []byte) Result[SecretHandle]
}

// Dictionary is the fastly_dictionary module.
type Dictionary interface {
	DictionaryOpen(name string) Result[DictionaryHandle]
	DictionaryGet(h DictionaryHandle, key string, maxLen uint32) Result[string]
}

// ERL is the fastly_erl module.
type ERL interface {
	CheckRate(rc, entry string, delta uint32, window time.Duration, limit uint32, pb string, ttl time.Duration) Result[bool]
	RatecounterIncrement(rc, entry string, delta uint32) error
	RatecounterLookupRate(rc, entry string, window time.Duration) Result[uint32]
	RatecounterLookupCount(rc, entry string, duration time.Duration) Result[uint32]
	PenaltyboxAdd(pb, entry string, ttl time.Duration) error
	PenaltyboxHas(pb, entry string) Result[bool]
}

// Host is the whole capability surface a guest runtime sees.
type Host interface {
	HTTPBody
	HTTPReq
	HTTPResp
	Cache
	AsyncIO
	Purge
	KVStore
	SecretStore
	Dictionary
	ERL
}
