package memhost

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
	"go.uber.org/zap"
)

type request struct {
	header http.Header
	method string
	uri    string
}

type response struct {
	header http.Header
	status uint16
}

type pendingRequest struct {
	err     error
	backend string
	result  hostcall.ResponsePair
	done    bool
}

const readChunk = 32 * 1024

func headerNames(hdr http.Header) hostcall.Result[[]string] {
	if len(hdr) == 0 {
		return hostcall.Fail[[]string](errors.OptionalNone())
	}
	names := make([]string, 0, len(hdr))
	for k := range hdr {
		names = append(names, strings.ToLower(k))
	}
	sort.Strings(names)
	return hostcall.Ok(names)
}

func headerValues(hdr http.Header, name string) hostcall.Result[[]string] {
	v := hdr.Values(name)
	if len(v) == 0 {
		return hostcall.Fail[[]string](errors.OptionalNone())
	}
	return hostcall.Ok(append([]string(nil), v...))
}

// NewRequest registers a request head built from an incoming HTTP request.
// The server uses it to hand real requests to guest code.
func (h *Host) NewRequest(r *http.Request) (hostcall.RequestHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uri := r.URL.RequestURI()
	if r.Host != "" {
		uri = "http://" + r.Host + uri
	}
	handle, err := h.insert(resource.KindRequest, &request{
		header: r.Header.Clone(),
		method: r.Method,
		uri:    uri,
	})
	return hostcall.RequestHandle(handle), err
}

// ResponseHead returns the status and headers of a response handle.
func (h *Host) ResponseHead(r hostcall.ResponseHandle) (int, http.Header, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.response(r)
	if err != nil {
		return 0, nil, err
	}
	return int(resp.status), resp.header.Clone(), nil
}

// AddBackend registers or replaces a backend.
func (h *Host) AddBackend(name, baseURL string) {
	h.mu.Lock()
	h.backends[name] = baseURL
	h.mu.Unlock()
}

func (h *Host) request(r hostcall.RequestHandle) (*request, error) {
	return get[*request](h, resource.Handle(r), resource.KindRequest)
}

func (h *Host) response(r hostcall.ResponseHandle) (*response, error) {
	return get[*response](h, resource.Handle(r), resource.KindResponse)
}

func (h *Host) ReqNew() hostcall.Result[hostcall.RequestHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, err := h.insert(resource.KindRequest, &request{header: http.Header{}, method: http.MethodGet, uri: "/"})
	if err != nil {
		return hostcall.Fail[hostcall.RequestHandle](err)
	}
	return hostcall.Ok(hostcall.RequestHandle(handle))
}

func (h *Host) withRequest(r hostcall.RequestHandle, fn func(*request) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.request(r)
	if err != nil {
		return err
	}
	return fn(req)
}

func (h *Host) ReqMethodGet(r hostcall.RequestHandle) hostcall.Result[string] {
	var out string
	err := h.withRequest(r, func(req *request) error { out = req.method; return nil })
	return hostcall.FromError(out, err)
}

func (h *Host) ReqMethodSet(r hostcall.RequestHandle, method string) error {
	if method == "" || strings.ContainsAny(method, " \t\r\n") {
		return errors.Host(errors.KindHTTPInvalid)
	}
	return h.withRequest(r, func(req *request) error { req.method = method; return nil })
}

func (h *Host) ReqURIGet(r hostcall.RequestHandle) hostcall.Result[string] {
	var out string
	err := h.withRequest(r, func(req *request) error { out = req.uri; return nil })
	return hostcall.FromError(out, err)
}

func (h *Host) ReqURISet(r hostcall.RequestHandle, uri string) error {
	if _, err := url.ParseRequestURI(uri); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindHTTPInvalid, err, "invalid uri")
	}
	return h.withRequest(r, func(req *request) error { req.uri = uri; return nil })
}

func (h *Host) ReqHeaderNames(r hostcall.RequestHandle) hostcall.Result[[]string] {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.request(r)
	if err != nil {
		return hostcall.Fail[[]string](err)
	}
	return headerNames(req.header)
}

func (h *Host) ReqHeaderValues(r hostcall.RequestHandle, name string) hostcall.Result[[]string] {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, err := h.request(r)
	if err != nil {
		return hostcall.Fail[[]string](err)
	}
	return headerValues(req.header, name)
}

func (h *Host) ReqHeaderInsert(r hostcall.RequestHandle, name, value string) error {
	return h.withRequest(r, func(req *request) error { req.header.Set(name, value); return nil })
}

func (h *Host) ReqHeaderAppend(r hostcall.RequestHandle, name, value string) error {
	return h.withRequest(r, func(req *request) error { req.header.Add(name, value); return nil })
}

func (h *Host) ReqHeaderRemove(r hostcall.RequestHandle, name string) error {
	return h.withRequest(r, func(req *request) error {
		if req.header.Get(name) == "" && len(req.header.Values(name)) == 0 {
			return errors.OptionalNone()
		}
		req.header.Del(name)
		return nil
	})
}

func (h *Host) ReqClose(r hostcall.RequestHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.request(r); err != nil {
		return err
	}
	h.table.Remove(resource.Handle(r))
	return nil
}

func (h *Host) RespNew() hostcall.Result[hostcall.ResponseHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, err := h.insert(resource.KindResponse, &response{header: http.Header{}, status: http.StatusOK})
	if err != nil {
		return hostcall.Fail[hostcall.ResponseHandle](err)
	}
	return hostcall.Ok(hostcall.ResponseHandle(handle))
}

func (h *Host) withResponse(r hostcall.ResponseHandle, fn func(*response) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.response(r)
	if err != nil {
		return err
	}
	return fn(resp)
}

func (h *Host) RespStatusGet(r hostcall.ResponseHandle) hostcall.Result[uint16] {
	var out uint16
	err := h.withResponse(r, func(resp *response) error { out = resp.status; return nil })
	return hostcall.FromError(out, err)
}

func (h *Host) RespStatusSet(r hostcall.ResponseHandle, status uint16) error {
	if status < 100 || status > 999 {
		return errors.Host(errors.KindHTTPInvalidStatus)
	}
	return h.withResponse(r, func(resp *response) error { resp.status = status; return nil })
}

func (h *Host) RespHeaderNames(r hostcall.ResponseHandle) hostcall.Result[[]string] {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.response(r)
	if err != nil {
		return hostcall.Fail[[]string](err)
	}
	return headerNames(resp.header)
}

func (h *Host) RespHeaderValues(r hostcall.ResponseHandle, name string) hostcall.Result[[]string] {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.response(r)
	if err != nil {
		return hostcall.Fail[[]string](err)
	}
	return headerValues(resp.header, name)
}

func (h *Host) RespHeaderInsert(r hostcall.ResponseHandle, name, value string) error {
	return h.withResponse(r, func(resp *response) error { resp.header.Set(name, value); return nil })
}

func (h *Host) RespHeaderAppend(r hostcall.ResponseHandle, name, value string) error {
	return h.withResponse(r, func(resp *response) error { resp.header.Add(name, value); return nil })
}

func (h *Host) RespHeaderRemove(r hostcall.ResponseHandle, name string) error {
	return h.withResponse(r, func(resp *response) error {
		if len(resp.header.Values(name)) == 0 {
			return errors.OptionalNone()
		}
		resp.header.Del(name)
		return nil
	})
}

func (h *Host) RespClose(r hostcall.ResponseHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.response(r); err != nil {
		return err
	}
	h.table.Remove(resource.Handle(r))
	return nil
}

// ReqSendAsync consumes the request and body and starts the backend call
// in the background.
func (h *Host) ReqSendAsync(r hostcall.RequestHandle, b hostcall.BodyHandle, backend string) hostcall.Result[hostcall.PendingRequestHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()

	base, ok := h.backends[backend]
	if !ok {
		return hostcall.Fail[hostcall.PendingRequestHandle](errors.InvalidArgument("unknown backend %q", backend))
	}
	req, err := h.request(r)
	if err != nil {
		return hostcall.Fail[hostcall.PendingRequestHandle](err)
	}
	var src *bodyRef
	if b.Valid() {
		if src, err = h.body(b); err != nil {
			return hostcall.Fail[hostcall.PendingRequestHandle](err)
		}
		h.table.Remove(resource.Handle(b))
	}
	h.table.Remove(resource.Handle(r))

	p := &pendingRequest{backend: backend}
	handle, err := h.insert(resource.KindPendingRequest, p)
	if err != nil {
		return hostcall.Fail[hostcall.PendingRequestHandle](err)
	}
	go h.roundTrip(p, req, src, base)
	return hostcall.Ok(hostcall.PendingRequestHandle(handle))
}

func (h *Host) ReqPendingWait(p hostcall.PendingRequestHandle) hostcall.Result[hostcall.ResponsePair] {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending, err := get[*pendingRequest](h, resource.Handle(p), resource.KindPendingRequest)
	if err != nil {
		return hostcall.Fail[hostcall.ResponsePair](err)
	}
	if !h.waitUntil(zeroTime, func() bool { return pending.done }) {
		return hostcall.Fail[hostcall.ResponsePair](h.errClosed())
	}
	h.table.Remove(resource.Handle(p))
	if pending.err != nil {
		return hostcall.Fail[hostcall.ResponsePair](pending.err)
	}
	return hostcall.Ok(pending.result)
}

// roundTrip performs the backend request and streams the response body
// into a host buffer.
func (h *Host) roundTrip(p *pendingRequest, req *request, src *bodyRef, base string) {
	var payload []byte
	if src != nil {
		h.mu.Lock()
		h.waitUntil(zeroTime, func() bool {
			return !src.buf.streaming || src.buf.finished || src.buf.abandoned
		})
		payload = append([]byte(nil), src.buf.data[src.pos:src.limit()]...)
		h.mu.Unlock()
	}

	resp, err := h.do(req, payload, base)

	h.mu.Lock()
	h.metrics.backend(p.backend, err)
	if err != nil {
		h.logger.Warn("backend request failed", zap.String("backend", p.backend), zap.Error(err))
		p.err, p.done = err, true
		h.cond.Broadcast()
		h.mu.Unlock()
		return
	}
	buf := &bodyBuf{streaming: true}
	if resp.ContentLength >= 0 {
		n := uint64(resp.ContentLength)
		buf.length = &n
	}
	rh, err1 := h.insert(resource.KindResponse, &response{header: resp.Header.Clone(), status: uint16(resp.StatusCode)})
	bh, err2 := h.newBodyRef(buf, false, 0, -1)
	if err1 != nil || err2 != nil {
		p.err = h.errClosed()
	}
	p.result = hostcall.ResponsePair{Response: hostcall.ResponseHandle(rh), Body: bh}
	p.done = true
	h.cond.Broadcast()
	h.mu.Unlock()

	defer resp.Body.Close()
	chunk := make([]byte, readChunk)
	for {
		n, rerr := resp.Body.Read(chunk)
		h.mu.Lock()
		if n > 0 {
			buf.data = append(buf.data, chunk[:n]...)
		}
		if rerr != nil {
			buf.finish(rerr == io.EOF)
			h.cond.Broadcast()
			h.mu.Unlock()
			return
		}
		h.cond.Broadcast()
		h.mu.Unlock()
	}
}

func (h *Host) do(req *request, payload []byte, base string) (*http.Response, error) {
	target, err := backendURL(base, req.uri)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if len(payload) > 0 {
		rd = bytes.NewReader(payload)
	}
	out, err := http.NewRequestWithContext(h.ctx, req.method, target, rd)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHTTPInvalid, err, "build backend request")
	}
	out.Header = req.header.Clone()
	resp, err := h.client.Do(out)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHTTPIncomplete, err, "backend request")
	}
	return resp, nil
}

// backendURL keeps the path and query of uri and takes scheme and host
// from the backend base URL.
func backendURL(base, uri string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindInvalidArgument, err, "invalid backend url")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindHTTPInvalid, err, "invalid request uri")
	}
	b.Path = strings.TrimSuffix(b.Path, "/") + u.Path
	b.RawQuery = u.RawQuery
	return b.String(), nil
}
