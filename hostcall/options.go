package hostcall

import "time"

// MaxCacheKeyLen is the longest cache key the host accepts.
const MaxCacheKeyLen = 8135

// NoReadyIndex is returned by AsyncSelect when the timeout expired.
const NoReadyIndex = ^uint32(0)

// BodyEnd selects which end of a body a write goes to.
type BodyEnd uint32

const (
	BodyEndBack  BodyEnd = 0
	BodyEndFront BodyEnd = 1
)

// LookupState is the raw state bitmask of a cache lookup.
type LookupState uint32

const (
	LookupFound              LookupState = 1 << 0
	LookupUsable             LookupState = 1 << 1
	LookupStale              LookupState = 1 << 2
	LookupMustInsertOrUpdate LookupState = 1 << 3
	LookupUsableIfError      LookupState = 1 << 4
	LookupCollapseError      LookupState = 1 << 5
)

// LookupOptionsMask marks which CacheLookupOptions fields are present.
type LookupOptionsMask uint32

const (
	LookupOptReserved       LookupOptionsMask = 1 << 0
	LookupOptRequestHeaders LookupOptionsMask = 1 << 1
)

// CacheLookupOptions are the optional inputs of lookup calls.
type CacheLookupOptions struct {
	Mask           LookupOptionsMask
	RequestHeaders RequestHandle
}

// WriteOptionsMask marks which CacheWriteOptions fields are present.
type WriteOptionsMask uint32

const (
	WriteOptReserved             WriteOptionsMask = 1 << 0
	WriteOptRequestHeaders       WriteOptionsMask = 1 << 1
	WriteOptVaryRule             WriteOptionsMask = 1 << 2
	WriteOptInitialAge           WriteOptionsMask = 1 << 3
	WriteOptStaleWhileRevalidate WriteOptionsMask = 1 << 4
	WriteOptSurrogateKeys        WriteOptionsMask = 1 << 5
	WriteOptLength               WriteOptionsMask = 1 << 6
	WriteOptUserMetadata         WriteOptionsMask = 1 << 7
	WriteOptSensitiveData        WriteOptionsMask = 1 << 8
)

// CacheWriteOptions are the flat write options of insert and update calls.
// MaxAgeNs is always present; the rest only when their mask bit is set.
// VaryRule and SurrogateKeys are space-joined lists.
type CacheWriteOptions struct {
	Mask                   WriteOptionsMask
	MaxAgeNs               uint64
	RequestHeaders         RequestHandle
	VaryRule               string
	InitialAgeNs           uint64
	StaleWhileRevalidateNs uint64
	SurrogateKeys          string
	Length                 uint64
	UserMetadata           []byte
}

// Has reports whether a mask bit is set.
func (o CacheWriteOptions) Has(bit WriteOptionsMask) bool {
	return o.Mask&bit != 0
}

// GetBodyOptionsMask marks which BodyRange fields are present.
type GetBodyOptionsMask uint32

const (
	GetBodyOptReserved GetBodyOptionsMask = 1 << 0
	GetBodyOptStart    GetBodyOptionsMask = 1 << 1
	GetBodyOptEnd      GetBodyOptionsMask = 1 << 2
)

// BodyRange selects part of a cached body. End is exclusive.
type BodyRange struct {
	Mask  GetBodyOptionsMask
	Start uint64
	End   uint64
}

// InsertStreamBack is the outcome of transaction_insert_and_stream_back.
type InsertStreamBack struct {
	Body  BodyHandle
	Entry CacheHandle
}

// PurgeOptionsMask selects purge behavior.
type PurgeOptionsMask uint32

const (
	PurgeSoft      PurgeOptionsMask = 1 << 0
	PurgeReturnBuf PurgeOptionsMask = 1 << 1
)

// ResponsePair is a response head and its body.
type ResponsePair struct {
	Response ResponseHandle
	Body     BodyHandle
}

// KVInsertMode selects how an insert combines with an existing value.
type KVInsertMode uint32

const (
	KVInsertOverwrite KVInsertMode = iota
	KVInsertAdd
	KVInsertAppend
	KVInsertPrepend
)

// KVInsertOptions are the optional inputs of a kv insert.
type KVInsertOptions struct {
	Mode              KVInsertMode
	BackgroundFetch   bool
	IfGenerationMatch *uint64
	Metadata          []byte
	TTL               time.Duration
}

// KVEntry is the outcome of a kv lookup.
type KVEntry struct {
	Body       BodyHandle
	Metadata   []byte
	Generation uint64
}

// KVListOptions select a page of keys.
type KVListOptions struct {
	Cursor string
	Prefix string
	Limit  uint32
}

// KVListPage is one page of a kv listing.
type KVListPage struct {
	Keys       []string
	NextCursor string
}
