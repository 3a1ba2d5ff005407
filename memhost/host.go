package memhost

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
	"go.uber.org/zap"
)

// Config configures a Host. The zero value is usable.
type Config struct {
	Logger *zap.Logger
	// Registerer receives the host metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// Clock drives cache freshness and kv expiry. Defaults to time.Now.
	Clock func() time.Time
	// StaleIfError is how long past max age an object stays usable if its
	// refresh fails.
	StaleIfError time.Duration
	// MaxWriteChunk caps the bytes accepted by one back write. Zero means
	// no cap.
	MaxWriteChunk int
	// KVLatency delays kv results to exercise the two-phase API.
	KVLatency time.Duration
	// Backends maps backend names to base URLs.
	Backends   map[string]string
	HTTPClient *http.Client
}

// Host implements hostcall.Host in process. It is safe for concurrent use
// by many guests; one mutex guards all state and blocking calls wait on a
// condition variable.
type Host struct {
	mu      sync.Mutex
	cond    *sync.Cond
	table   *resource.Table
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc

	cache    map[string]*cacheKey
	kv       map[string]*kvStore
	secrets  map[string]map[string][]byte
	dicts    map[string]map[string]string
	erl      *erlState
	backends map[string]string
	client   *http.Client
}

var _ hostcall.Host = (*Host)(nil)

// New creates a host.
func New(cfg Config) *Host {
	h := &Host{
		table:    resource.NewTable(),
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		cache:    make(map[string]*cacheKey),
		kv:       make(map[string]*kvStore),
		secrets:  make(map[string]map[string][]byte),
		dicts:    make(map[string]map[string]string),
		backends: make(map[string]string),
		client:   cfg.HTTPClient,
	}
	h.cond = sync.NewCond(&h.mu)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	if h.logger == nil {
		h.logger = Logger()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Registerer != nil {
		h.metrics = NewMetrics(cfg.Registerer)
	}
	h.erl = newERLState(h.now)
	for name, url := range cfg.Backends {
		h.backends[name] = url
	}
	return h
}

// Close releases every handle and cancels backend requests. Blocked
// callers are woken.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cancel()
	h.cond.Broadcast()
	return h.table.Close()
}

// Handles returns the number of live handles.
func (h *Host) Handles() int {
	return h.table.Len()
}

func (h *Host) insert(kind resource.Kind, v any) (resource.Handle, error) {
	handle, err := h.table.Insert(kind, v)
	if err != nil {
		return resource.Invalid, errors.Wrap(errors.PhaseHost, errors.KindGeneric, err, "host closed")
	}
	return handle, nil
}

func get[T any](h *Host, handle resource.Handle, kind resource.Kind) (T, error) {
	v, ok := resource.Lookup[T](h.table, handle, kind)
	if !ok {
		return v, errors.BadHandle(kind.String())
	}
	return v, nil
}

// waitUntil blocks on the condition until done returns true, the deadline
// passes or the host closes. A zero deadline waits forever. Callers hold
// h.mu.
func (h *Host) waitUntil(deadline time.Time, done func() bool) bool {
	if !deadline.IsZero() {
		t := time.AfterFunc(time.Until(deadline), h.wake)
		defer t.Stop()
	}
	for !done() {
		if h.closed {
			return false
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		h.cond.Wait()
	}
	return true
}

func (h *Host) wake() {
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (h *Host) errClosed() error {
	return errors.InvalidState(errors.PhaseHost, "host closed")
}

var zeroTime time.Time
