package server

import (
	"io"
	"net/http"
	"slices"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/fetch"
)

// origin is a backend response whose body has not been read yet.
type origin struct {
	header http.Header
	body   *body.Body
	status int
}

// hostRequest builds a host request head from an incoming request.
func (h *Handler) hostRequest(r *http.Request) (*fetch.Request, error) {
	uri := "http://" + r.Host + r.URL.RequestURI()
	req, err := fetch.NewRequest(h.host, r.Method, uri)
	if err != nil {
		return nil, err
	}
	for name, values := range r.Header {
		if slices.Contains(hopHeaders, name) {
			continue
		}
		for _, v := range values {
			if err := req.Append(name, v); err != nil {
				req.Close()
				return nil, err
			}
		}
	}
	return req, nil
}

// forward sends r to the configured backend and waits for the response
// head. withBody copies the incoming request body.
func (h *Handler) forward(r *http.Request, withBody bool) (*origin, error) {
	if h.opts.Backend == "" {
		return nil, errors.InvalidInput("backend", "no backend configured")
	}
	req, err := h.hostRequest(r)
	if err != nil {
		return nil, err
	}

	var payload *body.Body
	if withBody && r.Body != nil && r.Body != http.NoBody {
		if payload, err = body.Make(h.host); err != nil {
			req.Close()
			return nil, err
		}
		if _, err := io.Copy(payload.Writer(), r.Body); err != nil {
			payload.Abandon()
			req.Close()
			return nil, err
		}
	}

	pending, err := h.client.Send(req, payload, h.opts.Backend)
	if err != nil {
		if payload != nil {
			payload.Abandon()
		}
		return nil, err
	}
	resp, b, err := pending.Wait()
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	status, err := resp.Status()
	if err != nil {
		b.Close()
		return nil, err
	}
	entries, err := fetch.Entries(resp)
	if err != nil && !errors.IsOptionalNone(err) {
		b.Close()
		return nil, err
	}
	hdr := make(http.Header, len(entries))
	for _, e := range entries {
		hdr.Add(e.Name, e.Value)
	}
	return &origin{status: int(status), header: hdr, body: b}, nil
}
