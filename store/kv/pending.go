package kv

import (
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Entry is a value read from the store.
type Entry struct {
	Body       *body.Body
	Metadata   []byte
	Generation uint64
}

// Bytes reads the whole value.
func (e *Entry) Bytes() ([]byte, error) {
	return e.Body.ReadAll()
}

// Page is one page of List results. An empty NextCursor means there are
// no more keys.
type Page struct {
	Keys       []string
	NextCursor string
}

// pending is the shared state of the two-phase operations. Each resolves
// once, and can be passed to runtime select while unresolved.
type pending struct {
	handle hostcall.AsyncHandle
	done   bool
}

// AsyncHandle makes the operation selectable.
func (p *pending) AsyncHandle() (hostcall.AsyncHandle, bool) {
	return p.handle, !p.done
}

// Deadline reports that kv operations have no deadline.
func (p *pending) Deadline() (time.Time, bool) { return time.Time{}, false }

func (p *pending) resolve() error {
	if p.done {
		return errors.InvalidState(errors.PhaseKV, "kv operation already resolved")
	}
	p.done = true
	return nil
}

// PendingLookup is an in-flight Lookup.
type PendingLookup struct {
	pending
	host Host
	h    hostcall.KVLookupHandle
}

// Wait returns the entry, or nil when the key does not exist.
func (p *PendingLookup) Wait() (*Entry, error) {
	if err := p.resolve(); err != nil {
		return nil, err
	}
	e, err := p.host.KVLookupWait(p.h).Get()
	if errors.HasKind(err, errors.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Entry{Body: body.Wrap(p.host, e.Body), Metadata: e.Metadata, Generation: e.Generation}, nil
}

// PendingInsert is an in-flight Insert.
type PendingInsert struct {
	pending
	host Host
	h    hostcall.KVInsertHandle
}

// Wait returns the outcome of the insert.
func (p *PendingInsert) Wait() error {
	if err := p.resolve(); err != nil {
		return err
	}
	return p.host.KVInsertWait(p.h)
}

// PendingDelete is an in-flight Delete.
type PendingDelete struct {
	pending
	host Host
	h    hostcall.KVDeleteHandle
}

// Wait returns the outcome of the delete. Deleting a missing key reports
// not_found.
func (p *PendingDelete) Wait() error {
	if err := p.resolve(); err != nil {
		return err
	}
	return p.host.KVDeleteWait(p.h)
}

// PendingList is an in-flight List.
type PendingList struct {
	pending
	host Host
	h    hostcall.KVListHandle
}

// Wait returns the page.
func (p *PendingList) Wait() (*Page, error) {
	if err := p.resolve(); err != nil {
		return nil, err
	}
	page, err := p.host.KVListWait(p.h).Get()
	if err != nil {
		return nil, err
	}
	return &Page{Keys: page.Keys, NextCursor: page.NextCursor}, nil
}
