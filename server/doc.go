// Package server is a request-collapsing HTTP cache in front of a backend,
// built on the cache transaction engine.
//
// Each GET or HEAD becomes a transaction lookup keyed by method, host and
// URI. The caller that owns the refresh forwards the request to the
// backend and streams the response into the cache while copying it out;
// concurrent callers for the same key wait for that single fill and then
// read the bytes as they are written. Objects past their max age but within
// stale-while-revalidate are served while one caller refreshes them. When a
// refresh fails, objects inside the stale-if-error window are served
// instead of an error.
//
// PURGE requests purge a surrogate key, hard by default and soft with
// "Fastly-Soft-Purge: 1".
package server
