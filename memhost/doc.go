// Package memhost is an in-process implementation of every hostcall
// interface. It backs the dev server, the wasm exporter and the tests of
// the client packages.
//
// The cache keeps variants per key, selected by the vary rule against the
// request headers recorded at insert time. A collapsing lookup on a missing
// or expiring key makes the first caller the owner of a refresh; later
// callers either get stale content (inside stale-while-revalidate) or wait
// until the owner inserts, updates, cancels or closes its handle. Inserted
// bodies stream, so waiters and stream-back readers see bytes as they are
// written.
package memhost
