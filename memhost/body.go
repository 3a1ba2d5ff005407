package memhost

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
)

// bodyBuf holds the bytes of one stream. Streaming buffers are filled by a
// writer while readers consume them; reads at the end block until the
// writer finishes.
type bodyBuf struct {
	data      []byte
	length    *uint64
	onFinish  func(ok bool)
	streaming bool
	finished  bool
	abandoned bool
}

func (b *bodyBuf) finish(ok bool) {
	if ok {
		b.finished = true
	} else {
		b.abandoned = true
	}
	if b.onFinish != nil {
		b.onFinish(ok)
		b.onFinish = nil
	}
}

// bodyRef is one handle onto a buffer with its own read cursor.
type bodyRef struct {
	buf      *bodyBuf
	pos      int
	end      int
	writable bool
}

func (r *bodyRef) limit() int {
	if r.end >= 0 && r.end < len(r.buf.data) {
		return r.end
	}
	return len(r.buf.data)
}

func (r *bodyRef) ready() bool {
	b := r.buf
	if !b.streaming || b.finished || b.abandoned {
		return true
	}
	if r.end >= 0 && r.pos >= r.end {
		return true
	}
	return r.pos < len(b.data)
}

func (h *Host) newBodyRef(buf *bodyBuf, writable bool, start, end int) (hostcall.BodyHandle, error) {
	ref := &bodyRef{buf: buf, pos: start, end: end, writable: writable}
	handle, err := h.insert(resource.KindBody, ref)
	return hostcall.BodyHandle(handle), err
}

func (h *Host) body(b hostcall.BodyHandle) (*bodyRef, error) {
	return get[*bodyRef](h, resource.Handle(b), resource.KindBody)
}

// newBody creates a non-streaming body holding data.
func (h *Host) newBody(data []byte) (hostcall.BodyHandle, error) {
	return h.newBodyRef(&bodyBuf{data: data}, true, 0, -1)
}

func (h *Host) BodyNew() hostcall.Result[hostcall.BodyHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := h.newBody(nil)
	if err != nil {
		return hostcall.Fail[hostcall.BodyHandle](err)
	}
	return hostcall.Ok(b)
}

func (h *Host) BodyRead(b hostcall.BodyHandle, chunk uint32) hostcall.Result[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, err := h.body(b)
	if err != nil {
		return hostcall.Fail[[]byte](err)
	}
	if !h.waitUntil(zeroTime, ref.ready) {
		return hostcall.Fail[[]byte](h.errClosed())
	}
	if ref.buf.abandoned {
		return hostcall.Fail[[]byte](errors.Host(errors.KindHTTPIncomplete))
	}
	n := min(int(chunk), ref.limit()-ref.pos)
	if n <= 0 {
		return hostcall.Ok([]byte{})
	}
	out := make([]byte, n)
	copy(out, ref.buf.data[ref.pos:])
	ref.pos += n
	return hostcall.Ok(out)
}

func (h *Host) BodyWrite(b hostcall.BodyHandle, data []byte, end hostcall.BodyEnd) hostcall.Result[uint32] {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, err := h.body(b)
	if err != nil {
		return hostcall.Fail[uint32](err)
	}
	if !ref.writable || ref.buf.finished || ref.buf.abandoned {
		return hostcall.Fail[uint32](errors.InvalidArgument("body is not writable"))
	}

	switch end {
	case hostcall.BodyEndBack:
		n := len(data)
		if h.cfg.MaxWriteChunk > 0 && n > h.cfg.MaxWriteChunk {
			n = h.cfg.MaxWriteChunk
		}
		ref.buf.data = append(ref.buf.data, data[:n]...)
		h.cond.Broadcast()
		return hostcall.Ok(uint32(n))
	case hostcall.BodyEndFront:
		if ref.buf.streaming {
			return hostcall.Fail[uint32](errors.Host(errors.KindUnsupported))
		}
		buf := make([]byte, 0, len(data)+len(ref.buf.data))
		buf = append(buf, data...)
		ref.buf.data = append(buf, ref.buf.data...)
		return hostcall.Ok(uint32(len(data)))
	default:
		return hostcall.Fail[uint32](errors.InvalidArgument("unknown body end %d", end))
	}
}

func (h *Host) BodyAppend(dst, src hostcall.BodyHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.body(dst)
	if err != nil {
		return err
	}
	s, err := h.body(src)
	if err != nil {
		return err
	}
	if !d.writable || d.buf.finished || d.buf.abandoned {
		return errors.InvalidArgument("destination body is not writable")
	}
	if !h.waitUntil(zeroTime, func() bool {
		return !s.buf.streaming || s.buf.finished || s.buf.abandoned
	}) {
		return h.errClosed()
	}
	if s.buf.abandoned {
		return errors.Host(errors.KindHTTPIncomplete)
	}
	d.buf.data = append(d.buf.data, s.buf.data[s.pos:s.limit()]...)
	h.table.Remove(resource.Handle(src))
	h.cond.Broadcast()
	return nil
}

func (h *Host) BodyKnownLength(b hostcall.BodyHandle) hostcall.Result[uint64] {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, err := h.body(b)
	if err != nil {
		return hostcall.Fail[uint64](err)
	}
	buf := ref.buf
	switch {
	case !buf.streaming || buf.finished:
		return hostcall.Ok(uint64(ref.limit()))
	case buf.length != nil:
		return hostcall.Ok(*buf.length)
	default:
		return hostcall.Fail[uint64](errors.OptionalNone())
	}
}

func (h *Host) BodyClose(b hostcall.BodyHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, err := h.body(b)
	if err != nil {
		return err
	}
	h.table.Remove(resource.Handle(b))
	buf := ref.buf
	if !ref.writable || !buf.streaming || buf.finished || buf.abandoned {
		return nil
	}
	defer h.cond.Broadcast()
	if buf.length != nil && uint64(len(buf.data)) != *buf.length {
		buf.finish(false)
		return errors.New(errors.PhaseHost, errors.KindHTTPIncomplete).
			Value(len(buf.data)).
			Detail("body closed after %d of %d declared bytes", len(buf.data), *buf.length).
			Build()
	}
	buf.finish(true)
	return nil
}

func (h *Host) BodyAbandon(b hostcall.BodyHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, err := h.body(b)
	if err != nil {
		return err
	}
	h.table.Remove(resource.Handle(b))
	if ref.writable && !ref.buf.finished && !ref.buf.abandoned {
		ref.buf.data = nil
		ref.buf.finish(false)
		h.cond.Broadcast()
	}
	return nil
}
