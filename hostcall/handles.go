package hostcall

import "github.com/wippyai/edgecache/resource"

// Typed handles. Each names a host resource of one kind; the compiler keeps
// them apart.
type (
	BodyHandle           resource.Handle
	RequestHandle        resource.Handle
	ResponseHandle       resource.Handle
	CacheHandle          resource.Handle
	CacheBusyHandle      resource.Handle
	PendingRequestHandle resource.Handle
	KVStoreHandle        resource.Handle
	KVLookupHandle       resource.Handle
	KVInsertHandle       resource.Handle
	KVDeleteHandle       resource.Handle
	KVListHandle         resource.Handle
	SecretStoreHandle    resource.Handle
	SecretHandle         resource.Handle
	DictionaryHandle     resource.Handle
)

// AsyncHandle is any handle the readiness primitive accepts.
type AsyncHandle resource.Handle

// Valid reports whether the body handle names a resource.
func (h BodyHandle) Valid() bool { return resource.Handle(h).Valid() }

// Async returns the handle as an AsyncHandle.
func (h BodyHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Valid reports whether the cache handle names a resource.
func (h CacheHandle) Valid() bool { return resource.Handle(h).Valid() }

// Async returns the handle as an AsyncHandle.
func (h CacheBusyHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Async returns the handle as an AsyncHandle.
func (h PendingRequestHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Async returns the handle as an AsyncHandle.
func (h KVLookupHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Async returns the handle as an AsyncHandle.
func (h KVInsertHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Async returns the handle as an AsyncHandle.
func (h KVDeleteHandle) Async() AsyncHandle { return AsyncHandle(h) }

// Async returns the handle as an AsyncHandle.
func (h KVListHandle) Async() AsyncHandle { return AsyncHandle(h) }

// InvalidBody is the body handle the host returns when there is no body.
const InvalidBody = BodyHandle(resource.Invalid)
