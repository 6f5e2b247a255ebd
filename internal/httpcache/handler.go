package httpcache

import (
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// Handler wraps an http.Handler and caches GET responses by request URI.
// Responses with any status other than 200 OK are cached with a ttl of
// zero, so they are effectively
// refetched on the next request. If the wrapped handler sets the
// "Expires" header, that overrides the default ttl.
type Handler struct {
	cache      *Cache
	fetcher    http.Handler
	defaultTTL time.Duration

	// CacheKey overrides how the cache key is derived from a request.
	// Defaults to the request's RequestURI.
	CacheKey func(*http.Request) string
}

var _ http.Handler = (*Handler)(nil)

type cachedResponseWriter struct {
	w          http.ResponseWriter
	statusCode int
	buf        bytes.Buffer
}

type cachedResponse struct {
	headers    http.Header
	statusCode int
	data       []byte
	fetched    time.Time
}

var _ http.ResponseWriter = (*cachedResponseWriter)(nil)

func (crw *cachedResponseWriter) Header() http.Header { return crw.w.Header() }

func (crw *cachedResponseWriter) Write(b []byte) (int, error) { return crw.buf.Write(b) }

func (crw *cachedResponseWriter) WriteHeader(statusCode int) { crw.statusCode = statusCode }

// NewHandler returns a caching Handler in front of fetcher.
// maxmemory is in bytes.
func NewHandler(maxmemory int, ttl time.Duration, fetcher http.Handler) *Handler {
	return &Handler{
		cache:      New(maxmemory),
		defaultTTL: ttl,
		fetcher:    fetcher,
		CacheKey: func(r *http.Request) string {
			return r.RequestURI
		},
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.fetcher.ServeHTTP(rw, r)
		return
	}

	cr := h.cache.Get(h.CacheKey(r), func() (interface{}, time.Duration, int) {
		crw := &cachedResponseWriter{w: rw, statusCode: http.StatusOK}

		h.fetcher.ServeHTTP(crw, r)

		cr := &cachedResponse{
			headers:    rw.Header().Clone(),
			statusCode: crw.statusCode,
			data:       crw.buf.Bytes(),
			fetched:    time.Now(),
		}
		cr.headers.Set("Content-Length", strconv.Itoa(len(cr.data)))

		ttl := h.defaultTTL
		if cr.statusCode != http.StatusOK {
			ttl = 0
		} else if cr.headers.Get("Expires") != "" {
			if expires, err := http.ParseTime(cr.headers.Get("Expires")); err == nil {
				ttl = time.Until(expires)
			}
		}

		return cr, ttl, len(cr.data)
	}).(*cachedResponse)

	for key, val := range cr.headers {
		rw.Header()[key] = val
	}
	rw.Header().Set("Age", strconv.Itoa(int(time.Since(cr.fetched).Seconds())))

	rw.WriteHeader(cr.statusCode)
	rw.Write(cr.data)
}
