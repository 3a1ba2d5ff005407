package fetch

import (
	"time"

	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/runtime"
	"go.uber.org/zap"
)

// Client sends requests to named backends.
type Client struct {
	host Host
	rc   *runtime.Context
}

// NewClient creates a client. When rc is set, sends are only allowed in
// the serve phase.
func NewClient(host Host, rc *runtime.Context) *Client {
	return &Client{host: host, rc: rc}
}

// Send starts a request. The request and body are consumed once the host
// accepts the send; body may be nil for an empty body. When Send returns an
// error the caller still owns b and must close or abandon it.
func (c *Client) Send(req *Request, b *body.Body, backend string) (*PendingRequest, error) {
	if c.rc != nil {
		if err := c.rc.Require(runtime.PhaseServe); err != nil {
			return nil, err
		}
	}
	if backend == "" {
		return nil, errors.InvalidInput("backend", "backend name is empty")
	}
	if err := req.check(); err != nil {
		return nil, err
	}

	var bh hostcall.BodyHandle
	var empty *body.Body
	if b != nil && b.Valid() {
		bh = b.Handle()
	} else {
		nb, err := body.Make(c.host)
		if err != nil {
			return nil, err
		}
		empty, bh = nb, nb.Handle()
	}

	rh := req.consume()
	p, err := c.host.ReqSendAsync(rh, bh, backend).Get()
	if err != nil {
		// A rejected send leaves the head with the caller; release it.
		_ = c.host.ReqClose(rh)
		if empty != nil {
			empty.Close()
		}
		return nil, err
	}
	Logger().Debug("request sent", zap.String("backend", backend))
	return &PendingRequest{host: c.host, handle: p}, nil
}

// PendingRequest is an in-flight backend request. It resolves once.
type PendingRequest struct {
	host   Host
	handle hostcall.PendingRequestHandle
	done   bool
}

// AsyncHandle makes the request selectable.
func (p *PendingRequest) AsyncHandle() (hostcall.AsyncHandle, bool) {
	return p.handle.Async(), !p.done
}

// Deadline reports that pending requests have no deadline.
func (p *PendingRequest) Deadline() (time.Time, bool) { return time.Time{}, false }

// Wait blocks until the response head arrives.
func (p *PendingRequest) Wait() (*Response, *body.Body, error) {
	if p.done {
		return nil, nil, errors.InvalidState(errors.PhaseHost, "pending request already resolved")
	}
	p.done = true
	pair, err := p.host.ReqPendingWait(p.handle).Get()
	if err != nil {
		return nil, nil, err
	}
	return WrapResponse(p.host, pair.Response), body.Wrap(p.host, pair.Body), nil
}
