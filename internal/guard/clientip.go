package guard

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP identifies the caller: the first X-Forwarded-For entry, then
// X-Real-IP, then the connection's remote address. Both headers are set by
// the client unless a proxy overwrites them; Guard only trusts them from
// configured proxies.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peerIP(r)
}

// peerIP is the address of the connection itself.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
