package cache

import (
	"strings"

	"github.com/wippyai/edgecache/hostcall"
)

// State is the outcome of a lookup. It is read-only and derived from the
// host.
type State hostcall.LookupState

// Found reports whether an object exists for the key.
func (s State) Found() bool { return s.has(hostcall.LookupFound) }

// Usable reports whether the object may be served.
func (s State) Usable() bool { return s.has(hostcall.LookupUsable) }

// Stale reports whether the object is past its max age.
func (s State) Stale() bool { return s.has(hostcall.LookupStale) }

// MustInsertOrUpdate reports whether this transaction owns the refresh.
func (s State) MustInsertOrUpdate() bool { return s.has(hostcall.LookupMustInsertOrUpdate) }

// UsableIfError reports whether the object may be served if the refresh
// fails.
func (s State) UsableIfError() bool { return s.has(hostcall.LookupUsableIfError) }

// CollapseError reports that the collapsed refresh this lookup waited on
// failed.
func (s State) CollapseError() bool { return s.has(hostcall.LookupCollapseError) }

func (s State) has(bit hostcall.LookupState) bool {
	return hostcall.LookupState(s)&bit != 0
}

func (s State) String() string {
	var parts []string
	names := []struct {
		bit  hostcall.LookupState
		name string
	}{
		{hostcall.LookupFound, "found"},
		{hostcall.LookupUsable, "usable"},
		{hostcall.LookupStale, "stale"},
		{hostcall.LookupMustInsertOrUpdate, "must-insert-or-update"},
		{hostcall.LookupUsableIfError, "usable-if-error"},
		{hostcall.LookupCollapseError, "collapse-error"},
	}
	for _, n := range names {
		if s.has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "miss"
	}
	return strings.Join(parts, "|")
}

// tokens splits a space-joined host buffer. Runs of spaces and padding do
// not produce empty tokens.
func tokens(s string) []string {
	out := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' })
	if len(out) == 0 {
		return nil
	}
	return out
}
