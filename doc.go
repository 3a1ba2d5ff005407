// Package edgecache is the guest side of an edge runtime's host calls: typed
// handles, a streaming body, request and response heads, a request
// collapsing cache and the stores a guest reads, built over a narrow host
// interface.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	edgecache/
//	├── hostcall/      Host ABI: handle types, status results, option masks
//	├── resource/      Handle table shared by host implementations
//	├── errors/        Structured errors and status code mapping
//	├── runtime/       Execution context, select over async handles, event loop
//	├── body/          Streaming body handle with io.Reader and io.Writer views
//	├── fetch/         Request and response heads, backend sends
//	├── cache/         Core cache: lookup, transactions, inserts, entries
//	├── simplecache/   Get/set/delete view with collapsed fills
//	├── store/         KV, secret and dictionary stores
//	├── erl/           Edge rate limiting counters and penalty boxes
//	├── memhost/       In-process host implementing the whole ABI
//	├── abi/           wazero host modules exposing the ABI to wasm guests
//	├── config/        YAML configuration with hot reload
//	├── server/        HTTP caching proxy over the cache
//	└── cmd/edged/     Dev server and interactive cache console
//
// # Quick Start
//
//	host := memhost.New(memhost.Config{Backends: map[string]string{"origin": "http://127.0.0.1:8080"}})
//	defer host.Close()
//
//	c := simplecache.New(host)
//	entry, err := c.GetOrSet("greeting", func() ([]byte, time.Duration, error) {
//	    return []byte("hello"), time.Minute, nil
//	})
//
// # Request Collapsing
//
// cache.Cache.TransactionLookup serializes concurrent lookups of a missing
// or expiring key. One caller is told to insert or update; the others wait
// for that object, or receive stale content while it is refreshed. A
// transaction closed without completing fails the waiters with a collapse
// error so each can fall back.
//
// # Guests
//
// The abi package registers the host calls as wazero host modules so a core
// wasm guest compiled against the flat ABI runs against any hostcall.Host.
package edgecache
