package abi

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

func errInvalidEnd(end hostcall.BodyEnd) error {
	return errors.InvalidArgument("body end %d is neither back nor front", end)
}

func (e *Exporter) bodyModule() *Module {
	m := newModule(ModuleHTTPBody)
	h := e.host

	// new(body_handle_out)
	e.def(m, "new", 1, func(g guest, a []uint64) error {
		b, err := h.BodyNew().Get()
		return putHandle(g, arg(a, 0), b, err)
	})

	// read(body, buf, buf_len, nread_out)
	e.def(m, "read", 4, func(g guest, a []uint64) error {
		data, err := h.BodyRead(hostcall.BodyHandle(arg(a, 0)), arg(a, 2)).Get()
		return g.putBuffer(arg(a, 1), arg(a, 2), arg(a, 3), data, err)
	})

	// write(body, buf, buf_len, end, nwritten_out)
	e.def(m, "write", 5, func(g guest, a []uint64) error {
		end := hostcall.BodyEnd(arg(a, 3))
		if end != hostcall.BodyEndBack && end != hostcall.BodyEndFront {
			return errInvalidEnd(end)
		}
		data, err := g.bytes(arg(a, 1), arg(a, 2))
		if err != nil {
			return err
		}
		n, err := h.BodyWrite(hostcall.BodyHandle(arg(a, 0)), data, end).Get()
		if err != nil {
			return err
		}
		return g.putU32(arg(a, 4), n)
	})

	// append(dest, src)
	e.def(m, "append", 2, func(g guest, a []uint64) error {
		return h.BodyAppend(hostcall.BodyHandle(arg(a, 0)), hostcall.BodyHandle(arg(a, 1)))
	})

	// known_length(body, length_out)
	e.def(m, "known_length", 2, func(g guest, a []uint64) error {
		n, err := h.BodyKnownLength(hostcall.BodyHandle(arg(a, 0))).Get()
		if err != nil {
			return err
		}
		return g.putU64(arg(a, 1), n)
	})

	e.def(m, "close", 1, func(g guest, a []uint64) error {
		return h.BodyClose(hostcall.BodyHandle(arg(a, 0)))
	})

	e.def(m, "abandon", 1, func(g guest, a []uint64) error {
		return h.BodyAbandon(hostcall.BodyHandle(arg(a, 0)))
	})
	return m
}
