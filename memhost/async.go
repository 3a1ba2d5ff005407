package memhost

import (
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
)

// ready reports whether waiting on a would return without blocking.
// Callers hold h.mu.
func (h *Host) ready(a hostcall.AsyncHandle) (bool, error) {
	handle := resource.Handle(a)
	kind, ok := h.table.KindOf(handle)
	if !ok {
		return false, errors.BadHandle("async")
	}
	v, _ := h.table.Get(handle)
	switch kind {
	case resource.KindBody:
		return v.(*bodyRef).ready(), nil
	case resource.KindCacheBusy:
		busy := v.(*busyLookup)
		return !h.wouldBlock(busy.key, busy.hdrs), nil
	case resource.KindPendingRequest:
		return v.(*pendingRequest).done, nil
	case resource.KindKVPending:
		return v.(*kvPending).ready(), nil
	default:
		return false, errors.InvalidArgument("%s handle is not selectable", kind)
	}
}

func (h *Host) AsyncIsReady(a hostcall.AsyncHandle) hostcall.Result[bool] {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok, err := h.ready(a)
	return hostcall.FromError(ok, err)
}

func (h *Host) AsyncSelect(handles []hostcall.AsyncHandle, timeoutMs uint32) hostcall.Result[uint32] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(handles) == 0 && timeoutMs == 0 {
		return hostcall.Fail[uint32](errors.InvalidArgument("select with no handles and no timeout"))
	}

	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	index := hostcall.NoReadyIndex
	var failure error
	found := h.waitUntil(deadline, func() bool {
		for i, a := range handles {
			ok, err := h.ready(a)
			if err != nil {
				failure = err
				return true
			}
			if ok {
				index = uint32(i)
				return true
			}
		}
		return false
	})
	switch {
	case failure != nil:
		return hostcall.Fail[uint32](failure)
	case !found && h.closed:
		return hostcall.Fail[uint32](h.errClosed())
	default:
		return hostcall.Ok(index)
	}
}
