package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wippyai/edgecache/memhost"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// backend is a test origin that counts requests.
type backend struct {
	srv  *httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	fn   http.HandlerFunc
}

func newBackend(t *testing.T, fn http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{fn: fn}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.mu.Lock()
		fn := b.fn
		b.mu.Unlock()
		fn(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) set(fn http.HandlerFunc) {
	b.mu.Lock()
	b.fn = fn
	b.mu.Unlock()
}

type fixture struct {
	handler *Handler
	host    *memhost.Host
	clock   *testClock
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	host := memhost.New(memhost.Config{
		Clock:        clock.Now,
		StaleIfError: time.Hour,
		Backends:     map[string]string{"origin": baseURL},
	})
	t.Cleanup(func() { host.Close() })
	reg := prometheus.NewRegistry()
	h := New(host, Options{Backend: "origin", DefaultTTL: time.Minute, Registerer: reg})
	return &fixture{handler: h, host: host, clock: clock, reg: reg}
}

func (f *fixture) do(t *testing.T, method, target string, hdr map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec.Result()
}

func bodyOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func text(body string, hdr ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i+1 < len(hdr); i += 2 {
			w.Header().Set(hdr[i], hdr[i+1])
		}
		io.WriteString(w, body)
	}
}

func TestHandler_MissThenHit(t *testing.T) {
	b := newBackend(t, text("hello", "Cache-Control", "max-age=60", "Content-Type", "text/plain"))
	f := newFixture(t, b.srv.URL)

	resp := f.do(t, http.MethodGet, "http://example.com/page", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultMiss {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	if got := bodyOf(t, resp); got != "hello" {
		t.Errorf("first body = %q", got)
	}

	resp = f.do(t, http.MethodGet, "http://example.com/page", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultHit {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if got := bodyOf(t, resp); got != "hello" {
		t.Errorf("second body = %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Errorf("stored Content-Type = %q", got)
	}
	if b.hits.Load() != 1 {
		t.Errorf("backend hits = %d, want 1", b.hits.Load())
	}

	resp = f.do(t, http.MethodGet, "http://other.example.com/page", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultMiss {
		t.Errorf("other host X-Cache = %q, want MISS", got)
	}

	hits := testutil.ToFloat64(f.handler.Metrics().Requests.WithLabelValues(ResultHit, "2xx"))
	if hits != 1 {
		t.Errorf("hit metric = %v, want 1", hits)
	}
}

func TestHandler_CollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Cache-Control", "max-age=60")
		io.WriteString(w, "shared")
	})
	f := newFixture(t, b.srv.URL)

	const n = 6
	var wg sync.WaitGroup
	bodies := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "http://example.com/slow", nil)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			bodies[i] = rec.Body.String()
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for b.hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, got := range bodies {
		if got != "shared" {
			t.Errorf("body %d = %q", i, got)
		}
	}
	if got := b.hits.Load(); got != 1 {
		t.Errorf("backend hits = %d, want 1", got)
	}
}

func TestHandler_NoStorePasses(t *testing.T) {
	b := newBackend(t, text("private", "Cache-Control", "no-store"))
	f := newFixture(t, b.srv.URL)

	for range 2 {
		resp := f.do(t, http.MethodGet, "http://example.com/me", nil)
		if got := resp.Header.Get("X-Cache"); got != ResultPass {
			t.Errorf("X-Cache = %q, want PASS", got)
		}
		if got := bodyOf(t, resp); got != "private" {
			t.Errorf("body = %q", got)
		}
	}
	if got := b.hits.Load(); got != 2 {
		t.Errorf("backend hits = %d, want 2", got)
	}
}

func TestHandler_BackendDown(t *testing.T) {
	b := newBackend(t, text("x"))
	url := b.srv.URL
	b.srv.Close()
	f := newFixture(t, url)

	resp := f.do(t, http.MethodGet, "http://example.com/", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestHandler_StaleIfError(t *testing.T) {
	b := newBackend(t, text("v1", "Cache-Control", "max-age=60"))
	f := newFixture(t, b.srv.URL)

	if got := bodyOf(t, f.do(t, http.MethodGet, "http://example.com/doc", nil)); got != "v1" {
		t.Fatalf("body = %q", got)
	}
	f.clock.Advance(2 * time.Minute)
	b.srv.Close()

	resp := f.do(t, http.MethodGet, "http://example.com/doc", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != ResultStale {
		t.Errorf("X-Cache = %q, want STALE", got)
	}
	if got := bodyOf(t, resp); got != "v1" {
		t.Errorf("body = %q, want v1", got)
	}
}

func TestHandler_StaleWhileRevalidate(t *testing.T) {
	b := newBackend(t, text("v1", "Cache-Control", "max-age=60, stale-while-revalidate=120"))
	f := newFixture(t, b.srv.URL)

	bodyOf(t, f.do(t, http.MethodGet, "http://example.com/feed", nil))
	f.clock.Advance(90 * time.Second)
	b.set(text("v2", "Cache-Control", "max-age=60"))

	resp := f.do(t, http.MethodGet, "http://example.com/feed", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultStale {
		t.Errorf("X-Cache = %q, want STALE", got)
	}
	if got := bodyOf(t, resp); got != "v1" {
		t.Errorf("stale body = %q, want v1", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := f.do(t, http.MethodGet, "http://example.com/feed", nil)
		if bodyOf(t, resp) == "v2" {
			if got := resp.Header.Get("X-Cache"); got != ResultHit {
				t.Errorf("refreshed X-Cache = %q, want HIT", got)
			}
			if got := b.hits.Load(); got != 2 {
				t.Errorf("backend hits = %d, want 2", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("object not refreshed in the background")
}

func TestHandler_PurgeBySurrogateKey(t *testing.T) {
	b := newBackend(t, text("tagged", "Cache-Control", "max-age=600", "Surrogate-Key", "news front"))
	f := newFixture(t, b.srv.URL)

	bodyOf(t, f.do(t, http.MethodGet, "http://example.com/news", nil))
	resp := f.do(t, MethodPurge, "http://example.com/front", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge status = %d", resp.StatusCode)
	}
	if !strings.Contains(bodyOf(t, resp), `"status":"ok"`) {
		t.Error("purge body missing status")
	}

	resp = f.do(t, http.MethodGet, "http://example.com/news", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultMiss {
		t.Errorf("after purge X-Cache = %q, want MISS", got)
	}
	if got := b.hits.Load(); got != 2 {
		t.Errorf("backend hits = %d, want 2", got)
	}

	resp = f.do(t, MethodPurge, "http://example.com/", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty purge status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_SoftPurgeServesStale(t *testing.T) {
	b := newBackend(t, text("v1", "Cache-Control", "max-age=600", "Surrogate-Key", "doc"))
	f := newFixture(t, b.srv.URL)

	bodyOf(t, f.do(t, http.MethodGet, "http://example.com/doc", nil))
	f.do(t, MethodPurge, "http://example.com/", map[string]string{"Surrogate-Key": "doc", "Fastly-Soft-Purge": "1"})
	b.srv.Close()

	resp := f.do(t, http.MethodGet, "http://example.com/doc", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultStale {
		t.Errorf("X-Cache = %q, want STALE", got)
	}
	if got := bodyOf(t, resp); got != "v1" {
		t.Errorf("body = %q", got)
	}
}

func TestHandler_VarySelectsVariant(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Vary", "Accept-Language")
		fmt.Fprintf(w, "lang=%s", r.Header.Get("Accept-Language"))
	})
	f := newFixture(t, b.srv.URL)

	tests := []struct {
		lang   string
		result string
	}{
		{"en", ResultMiss},
		{"fr", ResultMiss},
		{"en", ResultHit},
		{"fr", ResultHit},
	}
	for _, tt := range tests {
		resp := f.do(t, http.MethodGet, "http://example.com/i18n", map[string]string{"Accept-Language": tt.lang})
		if got := resp.Header.Get("X-Cache"); got != tt.result {
			t.Errorf("%s: X-Cache = %q, want %s", tt.lang, got, tt.result)
		}
		if got := bodyOf(t, resp); got != "lang="+tt.lang {
			t.Errorf("%s: body = %q", tt.lang, got)
		}
	}
	if got := b.hits.Load(); got != 2 {
		t.Errorf("backend hits = %d, want 2", got)
	}
}

func TestHandler_PostPassesWithBody(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprintf(w, "%s:%s", r.Method, data)
	})
	f := newFixture(t, b.srv.URL)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "http://example.com/submit", strings.NewReader("payload"))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Cache"); got != ResultPass {
			t.Errorf("X-Cache = %q, want PASS", got)
		}
		if got := rec.Body.String(); got != "POST:payload" {
			t.Errorf("body = %q", got)
		}
	}
	if got := b.hits.Load(); got != 2 {
		t.Errorf("backend hits = %d, want 2", got)
	}
}

func TestHandler_HeadOmitsBody(t *testing.T) {
	b := newBackend(t, text("", "Cache-Control", "max-age=60"))
	f := newFixture(t, b.srv.URL)

	resp := f.do(t, http.MethodHead, "http://example.com/h", nil)
	if got := bodyOf(t, resp); got != "" {
		t.Errorf("HEAD body = %q", got)
	}
	resp = f.do(t, http.MethodHead, "http://example.com/h", nil)
	if got := resp.Header.Get("X-Cache"); got != ResultHit {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
}

func TestHandler_RequestID(t *testing.T) {
	b := newBackend(t, text("ok", "Cache-Control", "max-age=60", "X-Request-Id", "from-backend"))
	f := newFixture(t, b.srv.URL)

	resp := f.do(t, http.MethodGet, "http://example.com/id", nil)
	if _, err := uuid.Parse(resp.Header.Get("X-Request-Id")); err != nil {
		t.Errorf("generated request id %q: %v", resp.Header.Get("X-Request-Id"), err)
	}
	resp = f.do(t, http.MethodGet, "http://example.com/id", map[string]string{"X-Request-Id": "abc-123"})
	if got := resp.Header.Values("X-Request-Id"); len(got) != 1 || got[0] != "abc-123" {
		t.Errorf("request id = %v, want [abc-123]", got)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		hdr       http.Header
		cacheable bool
		ttl       time.Duration
		swr       time.Duration
		vary      []string
		surrogate []string
	}{
		{"default ttl", 200, http.Header{}, true, time.Minute, 0, nil, nil},
		{"max-age", 200, http.Header{"Cache-Control": {"public, max-age=30"}}, true, 30 * time.Second, 0, nil, nil},
		{"s-maxage wins", 200, http.Header{"Cache-Control": {"max-age=30, s-maxage=90"}}, true, 90 * time.Second, 0, nil, nil},
		{"surrogate-control wins", 200, http.Header{
			"Cache-Control":     {"max-age=30"},
			"Surrogate-Control": {"max-age=300"},
		}, true, 5 * time.Minute, 0, nil, nil},
		{"swr", 200, http.Header{"Cache-Control": {"max-age=10, stale-while-revalidate=20"}}, true, 10 * time.Second, 20 * time.Second, nil, nil},
		{"no-store", 200, http.Header{"Cache-Control": {"no-store"}}, false, 0, 0, nil, nil},
		{"private", 200, http.Header{"Cache-Control": {"private, max-age=60"}}, false, 0, 0, nil, nil},
		{"zero max-age", 200, http.Header{"Cache-Control": {"max-age=0"}}, false, 0, 0, nil, nil},
		{"uncacheable status", 500, http.Header{}, false, 0, 0, nil, nil},
		{"explicit status", 500, http.Header{"Cache-Control": {"max-age=5"}}, true, 5 * time.Second, 0, nil, nil},
		{"vary star", 200, http.Header{"Vary": {"*"}}, false, 0, 0, nil, nil},
		{"vary list", 200, http.Header{"Vary": {"Accept-Encoding, Accept-Language"}}, true, time.Minute, 0,
			[]string{"accept-encoding", "accept-language"}, nil},
		{"surrogate keys", 200, http.Header{"Surrogate-Key": {"a b", "c"}}, true, time.Minute, 0, nil, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decide(tt.status, tt.hdr, time.Minute)
			if p.cacheable != tt.cacheable {
				t.Fatalf("cacheable = %v, want %v", p.cacheable, tt.cacheable)
			}
			if !tt.cacheable {
				return
			}
			if p.ttl != tt.ttl || p.swr != tt.swr {
				t.Errorf("ttl, swr = %v, %v, want %v, %v", p.ttl, p.swr, tt.ttl, tt.swr)
			}
			if strings.Join(p.vary, ",") != strings.Join(tt.vary, ",") {
				t.Errorf("vary = %v, want %v", p.vary, tt.vary)
			}
			if strings.Join(p.surrogate, ",") != strings.Join(tt.surrogate, ",") {
				t.Errorf("surrogate = %v, want %v", p.surrogate, tt.surrogate)
			}
		})
	}
}
