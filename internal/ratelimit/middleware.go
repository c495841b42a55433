package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/api"
)

// HTTP limits requests per client address.
type HTTP struct {
	limiter     Limiter
	limit       int
	window      time.Duration
	log         *zap.Logger
	proxyHeader string
}

type HTTPOption func(*HTTP)

// WithTrustedProxyHeader keys clients by the address a reverse proxy
// reports in header (X-Forwarded-For or X-Real-IP) instead of the socket
// peer. Only enable it when every request passes through that proxy, since
// clients can set the header themselves.
func WithTrustedProxyHeader(header string) HTTPOption {
	return func(h *HTTP) { h.proxyHeader = http.CanonicalHeaderKey(strings.TrimSpace(header)) }
}

func NewHTTP(limiter Limiter, limit int, window time.Duration, log *zap.Logger, opts ...HTTPOption) *HTTP {
	h := &HTTP{limiter: limiter, limit: limit, window: window, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// KeyIP extracts the client host from the request, without the port.
// Behind a reverse proxy this is the proxy's address; see
// WithTrustedProxyHeader.
func KeyIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return ""
	}
	return "ip:" + host
}

// ClientKey is KeyIP unless a trusted proxy header is configured and
// carries a valid address. For X-Forwarded-For the right-most entry is
// used: it is the one appended by the proxy, the rest came from the client.
func (h *HTTP) ClientKey(r *http.Request) string {
	if h.proxyHeader == "" {
		return KeyIP(r)
	}
	values := r.Header.Values(h.proxyHeader)
	if len(values) == 0 {
		return KeyIP(r)
	}
	last := values[len(values)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	ip := net.ParseIP(strings.TrimSpace(last))
	if ip == nil {
		h.log.Debug("ignoring malformed proxy header", zap.String("header", h.proxyHeader))
		return KeyIP(r)
	}
	return "ip:" + ip.String()
}

func (h *HTTP) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := h.limiter.Allow(r.Context(), h.ClientKey(r), h.limit, h.window)
		if err != nil {
			// Fail open when the counter store is unreachable.
			h.log.Error("rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			TooManyRequests(w, h.window)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTP) LimitFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Limit(next).ServeHTTP(w, r)
	}
}

func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests", "code": api.CodeRateLimited})
}
