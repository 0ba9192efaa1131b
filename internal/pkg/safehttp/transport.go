// Package safehttp provides an HTTP transport that refuses to connect to
// internal addresses.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// DefaultDialTimeout bounds connection setup when no timeout is given.
const DefaultDialTimeout = 5 * time.Second

// NewTransport returns a transport that rejects connections to private,
// loopback or link-local IP ranges to reduce SSRF risk. The address is
// checked after dialing so DNS answers cannot bypass it.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if Blocked(ip) {
			conn.Close()
			return nil, fmt.Errorf("%w: access to private IP %s is denied", domain.ErrPermissionDenied, ip)
		}

		return conn, nil
	}
	return t
}

// Blocked reports whether ip falls in a range NewTransport refuses.
func Blocked(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
