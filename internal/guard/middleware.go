package guard

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"agentbox/internal/metrics"
)

// Guard combines the allow-list and the rate limiter in front of HTTP
// handlers.
type Guard struct {
	limiter Limiter
	allow   *AllowList
	proxies *AllowList
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Guard. A nil limiter admits every request; a nil or empty
// allow-list admits every address.
func New(limiter Limiter, allow *AllowList, m *metrics.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		limiter: limiter,
		allow:   allow,
		metrics: m,
		logger:  logger.With("component", "guard"),
	}
}

// TrustProxies limits forwarding headers to requests whose connection comes
// from one of proxies. Other callers are identified by their own address.
// Without trusted proxies every request's headers are honoured.
func (g *Guard) TrustProxies(proxies *AllowList) {
	g.proxies = proxies
}

func (g *Guard) clientIP(r *http.Request) string {
	if g.proxies.Empty() {
		return ClientIP(r)
	}
	if peer := peerIP(r); !g.proxies.Allowed(peer) {
		return peer
	}
	return ClientIP(r)
}

// Middleware rejects requests from addresses outside the allow-list with
// 403 and over-limit clients with 429. Rate-limit state is reported in
// X-RateLimit-* headers on every limited response.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.clientIP(r)

		if !g.allow.Allowed(ip) {
			g.logger.Warn("Address not allow-listed", "ip", ip, "path", r.URL.Path)
			g.metrics.RecordRejection("forbidden")
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		if g.limiter != nil {
			d := g.limiter.Allow(r.Context(), ip)
			setRateHeaders(w, d)
			if !d.Allowed {
				g.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				g.metrics.RecordRejection("rate_limited")
				retry := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func setRateHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
