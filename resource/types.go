package resource

import "math"

// Handle is an opaque reference to a host-owned resource.
// Handle 0 is never issued and Invalid marks "no resource".
type Handle uint32

// Invalid is the sentinel the host hands out when a resource is absent.
const Invalid Handle = math.MaxUint32 - 1

// Valid reports whether h can name a live resource.
func (h Handle) Valid() bool {
	return h != 0 && h != Invalid
}

// Kind identifies the type of resource a handle names.
type Kind uint8

const (
	KindBody Kind = iota + 1
	KindRequest
	KindResponse
	KindCacheEntry
	KindCacheBusy
	KindPendingRequest
	KindKVStore
	KindKVPending
	KindSecretStore
	KindSecret
	KindDictionary
)

var kindNames = [...]string{
	KindBody:           "body",
	KindRequest:        "request",
	KindResponse:       "response",
	KindCacheEntry:     "cache-entry",
	KindCacheBusy:      "cache-busy",
	KindPendingRequest: "pending-request",
	KindKVStore:        "kv-store",
	KindKVPending:      "kv-pending",
	KindSecretStore:    "secret-store",
	KindSecret:         "secret",
	KindDictionary:     "dictionary",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
