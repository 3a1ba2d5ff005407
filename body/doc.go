// Package body wraps host byte streams.
//
// A Body is append-only with two write ends. Writes may be partial, so
// callers that need every byte delivered use WriteAllBack or WriteAllFront.
// Close commits the stream; Abandon tells the host to drop it, which is how
// a failed producer keeps a truncated object out of the cache.
package body
