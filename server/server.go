package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wippyai/edgecache/body"
	"github.com/wippyai/edgecache/cache"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/fetch"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// X-Cache values.
const (
	ResultHit   = "HIT"
	ResultMiss  = "MISS"
	ResultStale = "STALE"
	ResultPass  = "PASS"
	ResultPurge = "PURGE"
	ResultError = "ERROR"
)

// MethodPurge is the request method that purges a surrogate key.
const MethodPurge = "PURGE"

// Host is the part of the host ABI the server uses.
type Host interface {
	cache.Host
	fetch.Host
	hostcall.Purge
}

// Options configure a Handler.
type Options struct {
	// Backend names the host backend requests are forwarded to.
	Backend string
	// DefaultTTL applies to cacheable responses without explicit freshness.
	DefaultTTL time.Duration
	Logger     *zap.Logger
	// Registerer receives the handler metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Handler serves HTTP through the cache.
type Handler struct {
	host    Host
	cache   *cache.Cache
	client  *fetch.Client
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a handler.
func New(host Host, opts Options) *Handler {
	h := &Handler{
		host:   host,
		cache:  cache.New(host),
		client: fetch.NewClient(host, nil),
		opts:   opts,
		logger: opts.Logger,
	}
	if h.logger == nil {
		h.logger = Logger()
	}
	if opts.Registerer != nil {
		h.metrics = NewMetrics(opts.Registerer)
	}
	return h
}

// Metrics returns the handler metrics, or nil when disabled.
func (h *Handler) Metrics() *Metrics { return h.metrics }

// statusWriter records the status code written.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", id)
	log := h.logger.With(
		zap.String("request_id", id),
		zap.String("method", r.Method),
		zap.String("uri", r.URL.RequestURI()))
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

	var result string
	switch r.Method {
	case MethodPurge:
		result = h.purge(sw, r, id, log)
	case http.MethodGet, http.MethodHead:
		result = h.serveCached(sw, r, log)
	default:
		result = h.pass(sw, r, log)
	}

	elapsed := time.Since(start)
	h.metrics.observe(result, sw.code, elapsed)
	log.Debug("request served",
		zap.String("cache", result),
		zap.Int("status", sw.code),
		zap.Duration("elapsed", elapsed))
}

// Key returns the cache key of a request.
func Key(r *http.Request) []byte {
	return cache.HashKey(r.Method, r.Host, r.URL.RequestURI())
}

func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, log *zap.Logger) string {
	hdrs, err := h.hostRequest(r)
	if err != nil {
		return h.fail(w, log, "build request", err)
	}
	tx, err := h.cache.TransactionLookup(Key(r), cache.LookupOptions{RequestHeaders: hdrs})
	if err != nil {
		hdrs.Close()
		return h.fail(w, log, "cache lookup", err)
	}
	detached := false
	defer func() {
		if !detached {
			tx.Close()
			hdrs.Close()
		}
	}()

	st, err := tx.State()
	if err != nil {
		return h.fail(w, log, "cache state", err)
	}
	switch {
	case st.MustInsertOrUpdate() && st.Usable():
		// Serve the stale object and refresh it after the response.
		h.serveEntry(w, r, tx.Entry, ResultStale, log)
		detached = true
		bg := r.Clone(context.Background())
		go func() {
			defer hdrs.Close()
			defer tx.Close()
			h.fill(nil, bg, tx, hdrs, st, log)
		}()
		return ResultStale
	case st.MustInsertOrUpdate():
		return h.fill(w, r, tx, hdrs, st, log)
	case st.Usable():
		result := ResultHit
		if st.Stale() {
			result = ResultStale
		}
		return h.serveEntry(w, r, tx.Entry, result, log)
	default:
		log.Debug("collapsed refresh failed, passing", zap.Stringer("state", st))
		return h.pass(w, r, log)
	}
}

// fill runs the refresh tx owns. With a nil writer the response only goes
// to the cache.
func (h *Handler) fill(w http.ResponseWriter, r *http.Request, tx *cache.Transaction, hdrs *fetch.Request, st cache.State, log *zap.Logger) string {
	o, err := h.forward(r, false)
	if err != nil {
		log.Warn("backend request failed", zap.Error(err))
		if cerr := tx.Cancel(); cerr != nil {
			log.Debug("cancel failed", zap.Error(cerr))
		}
		if w == nil {
			return ResultError
		}
		if st.UsableIfError() || st.Usable() {
			return h.serveEntry(w, r, tx.Entry, ResultStale, log)
		}
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return ResultError
	}

	p := decide(o.status, o.header, h.opts.DefaultTTL)
	if !p.cacheable {
		if err := tx.Cancel(); err != nil {
			log.Debug("cancel failed", zap.Error(err))
		}
		return h.writeOrigin(w, r, o, ResultPass, log)
	}

	meta, err := encodeHead(o.status, o.header)
	if err != nil {
		tx.Cancel()
		return h.writeOrigin(w, r, o, ResultPass, log)
	}
	opts := cache.WriteOptions{
		MaxAge:               p.ttl,
		StaleWhileRevalidate: p.swr,
		SurrogateKeys:        p.surrogate,
		UserMetadata:         meta,
	}
	if n, ok, err := o.body.KnownLength(); err == nil && ok {
		opts.Length = cache.Len(n)
	}

	if len(p.vary) > 0 {
		opts.Vary = p.vary
		opts.RequestHeaders = hdrs
		wb, err := tx.Insert(opts)
		if err != nil {
			log.Warn("cache insert failed", zap.Error(err))
			tx.Cancel()
			return h.writeOrigin(w, r, o, ResultPass, log)
		}
		h.tee(w, r, o, wb, log)
		return ResultMiss
	}

	wb, entry, err := tx.InsertAndStreamBack(opts)
	if err != nil {
		log.Warn("cache insert failed", zap.Error(err))
		tx.Cancel()
		return h.writeOrigin(w, r, o, ResultPass, log)
	}
	defer entry.Close()
	if w == nil {
		copyInto(wb, o.body, log)
		return ResultMiss
	}
	go copyInto(wb, o.body, log)
	return h.serveEntry(w, r, entry, ResultMiss, log)
}

// copyInto drains src into the cache body dst, abandoning dst when src
// fails.
func copyInto(dst, src *body.Body, log *zap.Logger) {
	defer src.Close()
	for {
		chunk, err := src.Read(body.DefaultChunk)
		if err != nil {
			log.Warn("backend body failed, abandoning cache write", zap.Error(err))
			dst.Abandon()
			return
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := dst.WriteAllBack(chunk); err != nil {
			log.Warn("cache write failed", zap.Error(err))
			dst.Abandon()
			return
		}
	}
	if err := dst.Close(); err != nil {
		log.Warn("cache body close failed", zap.Error(err))
	}
}

// tee copies the backend body into the cache body and the client. A client
// that goes away does not stop the cache write.
func (h *Handler) tee(w http.ResponseWriter, r *http.Request, o *origin, wb *body.Body, log *zap.Logger) {
	defer o.body.Close()
	client := w != nil
	if client {
		writeHead(w, o.status, o.header, ResultMiss)
		client = r.Method != http.MethodHead
	}
	for {
		chunk, err := o.body.Read(body.DefaultChunk)
		if err != nil {
			log.Warn("backend body failed, abandoning cache write", zap.Error(err))
			wb.Abandon()
			return
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := wb.WriteAllBack(chunk); err != nil {
			log.Warn("cache write failed", zap.Error(err))
			wb.Abandon()
			return
		}
		if client {
			if _, err := w.Write(chunk); err != nil {
				client = false
			}
		}
	}
	if err := wb.Close(); err != nil {
		log.Warn("cache body close failed", zap.Error(err))
	}
}

// serveEntry writes a cached object to the client.
func (h *Handler) serveEntry(w http.ResponseWriter, r *http.Request, e *cache.Entry, result string, log *zap.Logger) string {
	head := storedHead{Status: http.StatusOK, Header: http.Header{}}
	meta, err := e.UserMetadata()
	if err != nil {
		return h.fail(w, log, "read metadata", err)
	}
	if len(meta) > 0 {
		if head, err = decodeHead(meta); err != nil {
			return h.fail(w, log, "decode metadata", err)
		}
	}
	b, err := e.Body(cache.Range{})
	if err != nil {
		return h.fail(w, log, "open cached body", err)
	}
	if !b.Valid() {
		http.Error(w, "cached object incomplete", http.StatusBadGateway)
		return ResultError
	}
	defer b.Close()

	if age, err := e.Age(); err == nil {
		head.Header.Set("Age", strconv.FormatInt(int64(age/time.Second), 10))
	}
	if n, ok, err := e.Length(); err == nil && ok && head.Header.Get("Content-Length") == "" {
		head.Header.Set("Content-Length", strconv.FormatUint(n, 10))
	}
	writeHead(w, head.Status, head.Header, result)
	if r.Method == http.MethodHead {
		return result
	}
	if _, err := io.Copy(w, b.Reader()); err != nil {
		log.Warn("cached body copy failed", zap.Error(err))
	}
	return result
}

// pass forwards a request without touching the cache.
func (h *Handler) pass(w http.ResponseWriter, r *http.Request, log *zap.Logger) string {
	o, err := h.forward(r, true)
	if err != nil {
		log.Warn("backend request failed", zap.Error(err))
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return ResultError
	}
	return h.writeOrigin(w, r, o, ResultPass, log)
}

func (h *Handler) writeOrigin(w http.ResponseWriter, r *http.Request, o *origin, result string, log *zap.Logger) string {
	defer o.body.Close()
	if w == nil {
		return result
	}
	writeHead(w, o.status, o.header, result)
	if r.Method == http.MethodHead {
		return result
	}
	if _, err := io.Copy(w, o.body.Reader()); err != nil {
		log.Warn("backend body copy failed", zap.Error(err))
	}
	return result
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request, id string, log *zap.Logger) string {
	raw := r.Header.Get("Surrogate-Key")
	if raw == "" {
		raw = strings.TrimPrefix(r.URL.Path, "/")
	}
	keys := strings.Fields(raw)
	if len(keys) == 0 {
		http.Error(w, "no surrogate key", http.StatusBadRequest)
		return ResultError
	}
	var mask hostcall.PurgeOptionsMask
	if r.Header.Get("Fastly-Soft-Purge") == "1" {
		mask |= hostcall.PurgeSoft
	}
	for _, key := range keys {
		if err := h.host.PurgeSurrogateKey(key, mask); err != nil {
			return h.fail(w, log, "purge", err)
		}
	}
	log.Info("purged", zap.Strings("keys", keys), zap.Bool("soft", mask&hostcall.PurgeSoft != 0))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "id": id})
	return ResultPurge
}

func (h *Handler) fail(w http.ResponseWriter, log *zap.Logger, op string, err error) string {
	log.Error(op+" failed", zap.Error(err))
	status := http.StatusInternalServerError
	if kind, ok := errors.KindOf(err); ok {
		switch kind {
		case errors.KindInvalidArgument, errors.KindInvalidInput:
			status = http.StatusBadRequest
		case errors.KindHTTPIncomplete:
			status = http.StatusBadGateway
		}
	}
	http.Error(w, op+" failed", status)
	return ResultError
}

func writeHead(w http.ResponseWriter, status int, hdr http.Header, result string) {
	id := w.Header().Get("X-Request-Id")
	copyHeader(w.Header(), hdr)
	if id != "" {
		w.Header().Set("X-Request-Id", id)
	}
	w.Header().Set("X-Cache", result)
	w.WriteHeader(status)
}
