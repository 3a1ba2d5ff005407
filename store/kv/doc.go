// Package kv is the client of the host's key-value store.
//
// Every operation is two-phase: Lookup, Insert, Delete and List return a
// pending value right away, and its Wait returns the outcome. Pending
// values satisfy runtime.Task, so several can be outstanding at once and
// multiplexed through runtime select. Store-specific failures carry the kv
// error kinds (not_found, precondition_failed, payload_too_large and so
// on); errors.KVMessage gives their text.
package kv
