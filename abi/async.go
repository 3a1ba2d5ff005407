package abi

import "github.com/wippyai/edgecache/hostcall"

func (e *Exporter) asyncModule() *Module {
	m := newModule(ModuleAsyncIO)
	h := e.host

	// select(handles, handles_len, timeout_ms, ready_idx_out). On timeout
	// ready_idx_out holds u32::MAX.
	e.def(m, "select", 4, func(g guest, a []uint64) error {
		raw, err := g.handles(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		handles := make([]hostcall.AsyncHandle, len(raw))
		for i, v := range raw {
			handles[i] = hostcall.AsyncHandle(v)
		}
		idx, err := h.AsyncSelect(handles, arg(a, 2)).Get()
		if err != nil {
			return err
		}
		return g.putU32(arg(a, 3), idx)
	})

	// is_ready(handle, ready_out)
	e.def(m, "is_ready", 2, func(g guest, a []uint64) error {
		ok, err := h.AsyncIsReady(hostcall.AsyncHandle(arg(a, 0))).Get()
		if err != nil {
			return err
		}
		return g.putBool(arg(a, 1), ok)
	})
	return m
}
