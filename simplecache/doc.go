// Package simplecache offers get, set and delete over the host cache for
// callers that do not need the transaction protocol.
//
// Purging in the host works only by surrogate key, so every object written
// here is tagged with SurrogateKey(key), the uppercase hex SHA-256 of the
// key. Delete purges that tag.
package simplecache
