package fetch

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Response is a host response head.
type Response struct {
	host   Host
	handle hostcall.ResponseHandle
	closed bool
}

// NewResponse creates a response head with the given status.
func NewResponse(host Host, status uint16) (*Response, error) {
	h, err := host.RespNew().Get()
	if err != nil {
		return nil, err
	}
	if err := host.RespStatusSet(h, status); err != nil {
		host.RespClose(h)
		return nil, err
	}
	return &Response{host: host, handle: h}, nil
}

// WrapResponse takes ownership of an existing response handle.
func WrapResponse(host Host, h hostcall.ResponseHandle) *Response {
	return &Response{host: host, handle: h}
}

// Handle returns the underlying handle.
func (r *Response) Handle() hostcall.ResponseHandle { return r.handle }

func (r *Response) check() error {
	if r == nil || r.closed {
		return errors.BadHandle("response")
	}
	return nil
}

// Status returns the HTTP status code.
func (r *Response) Status() (uint16, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.host.RespStatusGet(r.handle).Get()
}

// Names implements HeaderSource.
func (r *Response) Names() ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return optionalValues(r.host.RespHeaderNames(r.handle).Get())
}

// Values implements HeaderSource.
func (r *Response) Values(name string) ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return optionalValues(r.host.RespHeaderValues(r.handle, name).Get())
}

// Insert implements HeaderSource.
func (r *Response) Insert(name, value string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.RespHeaderInsert(r.handle, name, value)
}

// Append implements HeaderSource.
func (r *Response) Append(name, value string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.RespHeaderAppend(r.handle, name, value)
}

// Remove implements HeaderSource.
func (r *Response) Remove(name string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.RespHeaderRemove(r.handle, name)
}

// Close releases the response head.
func (r *Response) Close() error {
	if err := r.check(); err != nil {
		return err
	}
	r.closed = true
	return r.host.RespClose(r.handle)
}

var _ HeaderSource = (*Response)(nil)
