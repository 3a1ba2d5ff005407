package fetch

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

// Host is the part of the host ABI fetch uses.
type Host interface {
	hostcall.HTTPReq
	hostcall.HTTPResp
	hostcall.HTTPBody
}

// Request is a host request head.
type Request struct {
	host   Host
	handle hostcall.RequestHandle
	closed bool
}

// NewRequest creates a request head with method and URI set.
func NewRequest(host Host, method, uri string) (*Request, error) {
	h, err := host.ReqNew().Get()
	if err != nil {
		return nil, err
	}
	r := &Request{host: host, handle: h}
	if method != "" {
		if err := host.ReqMethodSet(h, method); err != nil {
			r.Close()
			return nil, err
		}
	}
	if uri != "" {
		if err := host.ReqURISet(h, uri); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// WrapRequest takes ownership of an existing request handle.
func WrapRequest(host Host, h hostcall.RequestHandle) *Request {
	return &Request{host: host, handle: h}
}

// Handle returns the underlying handle.
func (r *Request) Handle() hostcall.RequestHandle { return r.handle }

func (r *Request) check() error {
	if r == nil || r.closed {
		return errors.BadHandle("request")
	}
	return nil
}

// Method returns the request method.
func (r *Request) Method() (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	return r.host.ReqMethodGet(r.handle).Get()
}

// URI returns the request URI.
func (r *Request) URI() (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	return r.host.ReqURIGet(r.handle).Get()
}

// Names implements HeaderSource.
func (r *Request) Names() ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return optionalValues(r.host.ReqHeaderNames(r.handle).Get())
}

// Values implements HeaderSource.
func (r *Request) Values(name string) ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return optionalValues(r.host.ReqHeaderValues(r.handle, name).Get())
}

// Insert implements HeaderSource.
func (r *Request) Insert(name, value string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.ReqHeaderInsert(r.handle, name, value)
}

// Append implements HeaderSource.
func (r *Request) Append(name, value string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.ReqHeaderAppend(r.handle, name, value)
}

// Remove implements HeaderSource.
func (r *Request) Remove(name string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.host.ReqHeaderRemove(r.handle, name)
}

// Close releases the request head.
func (r *Request) Close() error {
	if err := r.check(); err != nil {
		return err
	}
	r.closed = true
	return r.host.ReqClose(r.handle)
}

// consume marks the handle as owned by the host.
func (r *Request) consume() hostcall.RequestHandle {
	r.closed = true
	return r.handle
}

var _ HeaderSource = (*Request)(nil)
