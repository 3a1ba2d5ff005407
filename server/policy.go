package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheableStatus lists the codes that are cached without explicit
// freshness.
var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusNotFound:             true,
	http.StatusGone:                 true,
}

// hopHeaders are not stored and not copied to clients.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailer",
}

// directives parses a Cache-Control style header into lowercase names and
// unquoted values.
func directives(v string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, _ := strings.Cut(part, "=")
		out[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return out
}

func seconds(d map[string]string, name string) (time.Duration, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// policy is the caching decision for one backend response.
type policy struct {
	cacheable bool
	ttl       time.Duration
	swr       time.Duration
	vary      []string
	surrogate []string
}

// decide derives freshness from Surrogate-Control, then s-maxage, then
// max-age, falling back to def. no-store, private and a Vary of "*"
// disable caching.
func decide(status int, hdr http.Header, def time.Duration) policy {
	var p policy
	cc := directives(strings.Join(hdr.Values("Cache-Control"), ","))
	sc := directives(strings.Join(hdr.Values("Surrogate-Control"), ","))
	if _, ok := cc["no-store"]; ok {
		return p
	}
	if _, ok := cc["private"]; ok {
		return p
	}

	ttl, explicit := seconds(sc, "max-age")
	if !explicit {
		ttl, explicit = seconds(cc, "s-maxage")
	}
	if !explicit {
		ttl, explicit = seconds(cc, "max-age")
	}
	if !explicit {
		if !cacheableStatus[status] {
			return p
		}
		ttl = def
	}
	if swr, ok := seconds(sc, "stale-while-revalidate"); ok {
		p.swr = swr
	} else if swr, ok := seconds(cc, "stale-while-revalidate"); ok {
		p.swr = swr
	}

	for _, v := range hdr.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "*" {
				return policy{}
			}
			if name != "" {
				p.vary = append(p.vary, name)
			}
		}
	}
	for _, v := range hdr.Values("Surrogate-Key") {
		p.surrogate = append(p.surrogate, strings.Fields(v)...)
	}
	p.ttl = ttl
	p.cacheable = ttl > 0
	return p
}

// storedHead is the response head kept as cache user metadata.
type storedHead struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
}

func encodeHead(status int, hdr http.Header) ([]byte, error) {
	out := hdr.Clone()
	for _, h := range hopHeaders {
		out.Del(h)
	}
	out.Del("Surrogate-Control")
	return json.Marshal(storedHead{Status: status, Header: out})
}

func decodeHead(meta []byte) (storedHead, error) {
	var h storedHead
	if err := json.Unmarshal(meta, &h); err != nil {
		return h, err
	}
	if h.Status == 0 {
		h.Status = http.StatusOK
	}
	return h, nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
