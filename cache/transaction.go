package cache

import (
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Transaction is an entry obtained through a collapsing lookup. When its
// state says MustInsertOrUpdate the holder owes the cache exactly one of
// Insert, InsertAndStreamBack, Update or Cancel.
type Transaction struct {
	*Entry
	key       []byte
	completed string
}

func (t *Transaction) complete(op string) error {
	if err := t.check(); err != nil {
		return err
	}
	if t.completed != "" {
		return errors.New(errors.PhaseCache, errors.KindInvalidState).
			Value(t.completed).
			Detail("transaction already completed by %s", t.completed).
			Build()
	}
	return nil
}

func (t *Transaction) done(op string) {
	t.completed = op
	t.invalidate()
	Logger().Debug("transaction completed", zap.String("op", op), zap.ByteString("key", t.key))
}

// Insert writes a new object. The returned body must be written and closed,
// or abandoned.
func (t *Transaction) Insert(opts WriteOptions) (*body.Body, error) {
	if err := t.complete("insert"); err != nil {
		return nil, err
	}
	raw, err := opts.encode()
	if err != nil {
		return nil, err
	}
	h, err := t.host.CacheTransactionInsert(t.handle, raw).Get()
	if err != nil {
		return nil, err
	}
	t.done("insert")
	return body.Wrap(t.host, h), nil
}

// InsertAndStreamBack writes a new object and also returns an entry that
// reads the bytes back as they are written.
//
// The stream-back form does not take request headers. Passing them is a
// programming error and panics.
func (t *Transaction) InsertAndStreamBack(opts WriteOptions) (*body.Body, *Entry, error) {
	if opts.RequestHeaders != nil {
		panic("cache: InsertAndStreamBack does not accept RequestHeaders")
	}
	if err := t.complete("insert_and_stream_back"); err != nil {
		return nil, nil, err
	}
	raw, err := opts.encode()
	if err != nil {
		return nil, nil, err
	}
	out, err := t.host.CacheTransactionInsertAndStreamBack(t.handle, raw).Get()
	if err != nil {
		return nil, nil, err
	}
	t.done("insert_and_stream_back")
	return body.Wrap(t.host, out.Body), newEntry(t.host, out.Entry), nil
}

// Update refreshes the metadata of a found object without rewriting its
// body. The state must be found and must-insert-or-update.
func (t *Transaction) Update(opts WriteOptions) error {
	if err := t.complete("update"); err != nil {
		return err
	}
	st, err := t.State()
	if err != nil {
		return err
	}
	if !st.Found() || !st.MustInsertOrUpdate() {
		return errors.New(errors.PhaseCache, errors.KindInvalidState).
			Value(st.String()).
			Detail("update requires a found entry this transaction must refresh, state is %s", st).
			Build()
	}
	raw, err := opts.encode()
	if err != nil {
		return err
	}
	if err := t.host.CacheTransactionUpdate(t.handle, raw); err != nil {
		return err
	}
	t.done("update")
	return nil
}

// Cancel gives up the obligation to refresh so another waiter can take it.
func (t *Transaction) Cancel() error {
	if err := t.complete("cancel"); err != nil {
		return err
	}
	if err := t.host.CacheTransactionCancel(t.handle); err != nil {
		return err
	}
	t.done("cancel")
	return nil
}

// Completed reports which operation completed the transaction, if any.
func (t *Transaction) Completed() (string, bool) {
	return t.completed, t.completed != ""
}

// PendingLookup is a collapsing lookup that has not resolved. It resolves
// once.
type PendingLookup struct {
	host   Host
	handle hostcall.CacheBusyHandle
	key    []byte
	done   bool
}

// AsyncHandle makes the lookup selectable.
func (p *PendingLookup) AsyncHandle() (hostcall.AsyncHandle, bool) {
	return p.handle.Async(), !p.done
}

// Deadline reports that lookups have no deadline.
func (p *PendingLookup) Deadline() (time.Time, bool) { return time.Time{}, false }

// Wait blocks until the lookup resolves.
func (p *PendingLookup) Wait() (*Transaction, error) {
	if p.done {
		return nil, errors.InvalidState(errors.PhaseCache, "pending lookup already resolved")
	}
	p.done = true
	h, err := p.host.CacheBusyHandleWait(p.handle).Get()
	if err != nil {
		return nil, err
	}
	return &Transaction{Entry: newEntry(p.host, h), key: p.key}, nil
}
