package httpapi

import (
	"compress/gzip"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// statusWriter records the status code and body size so the access log and the
// request metrics see what actually went out, including implicit 200s.
type statusWriter struct {
	http.ResponseWriter
	wroteHeader bool
	status      int
	bytes       int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.wroteHeader = true
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so the event stream can push each
// message immediately; an embedded interface does not promote Flusher.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Status() int { return sw.status }

func (sw *statusWriter) Bytes() int64 { return sw.bytes }

// baseWriter unwraps the status recorder. The WebSocket upgrade needs the
// concrete writer underneath because http.Hijacker does not survive wrapping.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if sw, ok := w.(*statusWriter); ok && sw.ResponseWriter != nil {
		return sw.ResponseWriter
	}
	return w
}

type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func (g *gzipWriter) Flush() {
	_ = g.gz.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipWriter) Close() error { return g.gz.Close() }

// maybeGzip compresses JSON responses when the client asks for it. The event
// stream and the WebSocket upgrade are left alone: /stream needs every flush
// to reach the socket immediately, and an upgraded connection is not HTTP
// anymore. When a statusWriter is in front, its writes are rerouted through
// the gzip layer so byte counting keeps working.
func maybeGzip(w http.ResponseWriter, r *http.Request) (*gzipWriter, bool) {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return nil, false
	}
	if r.Header.Get("Upgrade") != "" {
		return nil, false
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return nil, false
	}

	base := w
	if sw, ok := w.(*statusWriter); ok && sw.ResponseWriter != nil {
		base = sw.ResponseWriter
	}
	gw := &gzipWriter{ResponseWriter: base, gz: gzip.NewWriter(base)}

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")

	if sw, ok := w.(*statusWriter); ok {
		sw.ResponseWriter = gw
	}
	return gw, true
}

// ipLimiter applies a token bucket per client IP. Webhook senders and
// dashboard pollers share the same budget; the limits are generous enough
// that only a runaway client trips them.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	lifetime  time.Duration
	lastSweep time.Time
}

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps, burst int) *ipLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		lifetime: 5 * time.Minute,
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	if now.Sub(l.lastSweep) > l.lifetime {
		l.lastSweep = now
		for ip, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.lifetime {
				delete(l.visitors, ip)
			}
		}
	}
	return v.bucket.Allow()
}

// clientIP prefers the first X-Forwarded-For hop so the limiter keys on the
// original sender when the service sits behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				return hop
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsPolicy gates browser access. Nil means no CORS headers at all, which
// still lets non-browser webhook senders through; "*" allows any http(s)
// origin.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(origins []string) *corsPolicy {
	if len(origins) == 0 {
		return nil
	}
	p := &corsPolicy{origins: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			p.allowAll = true
			p.origins = nil
			return p
		default:
			p.origins[o] = struct{}{}
		}
	}
	return p
}

func (c *corsPolicy) isAllowed(origin string) bool {
	if c == nil {
		return false
	}
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if c.allowAll {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// handlePreflight answers CORS OPTIONS requests. POST is advertised because
// browsers submit to /webhook; everything else on this API is GET.
func (c *corsPolicy) handlePreflight(w http.ResponseWriter, r *http.Request) (bool, int) {
	if c == nil || r.Method != http.MethodOptions {
		return false, 0
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false, 0
	}
	if !c.isAllowed(origin) {
		w.WriteHeader(http.StatusForbidden)
		return true, http.StatusForbidden
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	allowHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowHeaders == "" {
		allowHeaders = "Content-Type"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
	w.Header().Set("Access-Control-Max-Age", "300")
	w.Header().Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
	return true, http.StatusNoContent
}

// applyHeaders sets CORS headers on ordinary requests. Returns false when the
// Origin is present but not on the allow list.
func (c *corsPolicy) applyHeaders(w http.ResponseWriter, r *http.Request) bool {
	if c == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !c.isAllowed(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}
