package body

import (
	"io"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// DefaultChunk is the read size used by ReadAll and the io.Reader adapter.
const DefaultChunk = 8192

// Body is a handle to a host byte stream. The zero-handle Body is invalid.
type Body struct {
	host   hostcall.HTTPBody
	handle hostcall.BodyHandle
}

// Make creates an empty body, writable at both ends.
func Make(host hostcall.HTTPBody) (*Body, error) {
	h, err := host.BodyNew().Get()
	if err != nil {
		return nil, err
	}
	return &Body{host: host, handle: h}, nil
}

// Wrap takes ownership of an existing handle. An invalid handle gives an
// invalid Body.
func Wrap(host hostcall.HTTPBody, h hostcall.BodyHandle) *Body {
	if !h.Valid() {
		return Invalid(host)
	}
	return &Body{host: host, handle: h}
}

// Invalid returns a body that names no resource.
func Invalid(host hostcall.HTTPBody) *Body {
	return &Body{host: host, handle: hostcall.InvalidBody}
}

// Handle returns the underlying handle.
func (b *Body) Handle() hostcall.BodyHandle { return b.handle }

// Valid reports whether the body names a live resource.
func (b *Body) Valid() bool { return b != nil && b.handle.Valid() }

// AsyncHandle makes a body selectable; it is ready when a read would not
// block.
func (b *Body) AsyncHandle() (hostcall.AsyncHandle, bool) {
	return b.handle.Async(), b.Valid()
}

// Deadline reports that bodies have no deadline.
func (b *Body) Deadline() (time.Time, bool) { return time.Time{}, false }

func (b *Body) check() error {
	if !b.Valid() {
		return errors.BadHandle("body")
	}
	return nil
}

// Read returns up to maxChunk bytes. An empty slice signals end of stream.
func (b *Body) Read(maxChunk uint32) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.host.BodyRead(b.handle, maxChunk).Get()
}

// WriteBack appends to the end of the body. The host may accept fewer
// bytes than given.
func (b *Body) WriteBack(p []byte) (uint32, error) {
	return b.write(p, hostcall.BodyEndBack)
}

// WriteFront prepends to the body. The host may accept fewer bytes than
// given.
func (b *Body) WriteFront(p []byte) (uint32, error) {
	return b.write(p, hostcall.BodyEndFront)
}

func (b *Body) write(p []byte, end hostcall.BodyEnd) (uint32, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	return b.host.BodyWrite(b.handle, p, end).Get()
}

// WriteAllBack writes all of p to the end. On error the count of bytes
// already accepted is returned with it.
func (b *Body) WriteAllBack(p []byte) (int, error) {
	return b.writeAll(p, hostcall.BodyEndBack)
}

// WriteAllFront writes all of p to the front. On error the count of bytes
// already accepted is returned with it.
func (b *Body) WriteAllFront(p []byte) (int, error) {
	return b.writeAll(p, hostcall.BodyEndFront)
}

func (b *Body) writeAll(p []byte, end hostcall.BodyEnd) (int, error) {
	written := 0
	for written < len(p) {
		n, err := b.write(p[written:], end)
		written += int(n)
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, errors.New(errors.PhaseBody, errors.KindGeneric).
				Value(written).
				Detail("host accepted no bytes after %d of %d", written, len(p)).
				Build()
		}
	}
	return written, nil
}

// Append moves the remaining content of other onto the end of b. other is
// consumed and becomes invalid.
func (b *Body) Append(other *Body) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := other.check(); err != nil {
		return err
	}
	err := b.host.BodyAppend(b.handle, other.handle)
	other.handle = hostcall.InvalidBody
	return err
}

// KnownLength returns the total length when the host knows it. Streaming
// bodies report no length.
func (b *Body) KnownLength() (uint64, bool, error) {
	if err := b.check(); err != nil {
		return 0, false, err
	}
	return b.host.BodyKnownLength(b.handle).Optional()
}

// Close commits the body and invalidates the handle.
func (b *Body) Close() error {
	if err := b.check(); err != nil {
		return err
	}
	h := b.handle
	b.handle = hostcall.InvalidBody
	return b.host.BodyClose(h)
}

// Abandon discards the body so the host does not keep a truncated stream.
func (b *Body) Abandon() error {
	if err := b.check(); err != nil {
		return err
	}
	h := b.handle
	b.handle = hostcall.InvalidBody
	return b.host.BodyAbandon(h)
}

// ReadAll reads until end of stream.
func (b *Body) ReadAll() ([]byte, error) {
	var out []byte
	for {
		chunk, err := b.Read(DefaultChunk)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// Reader adapts the body to io.Reader.
func (b *Body) Reader() io.Reader { return reader{b} }

// Writer adapts the body to io.Writer, appending at the back.
func (b *Body) Writer() io.Writer { return writer{b} }

type reader struct{ b *Body }

func (r reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk, err := r.b.Read(uint32(min(len(p), DefaultChunk)))
	if err != nil {
		return 0, err
	}
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

type writer struct{ b *Body }

func (w writer) Write(p []byte) (int, error) {
	return w.b.WriteAllBack(p)
}
