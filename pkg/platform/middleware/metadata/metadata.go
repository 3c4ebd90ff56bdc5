package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"agegate/pkg/requestcontext"
)

// ClientMetadata extracts the client IP, User-Agent and a coarse device
// fingerprint from the request and stores them in the context.
// Forwarding headers are ignored; use a ProxyResolver behind a load balancer.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return (&ProxyResolver{}).Middleware(next)
}

// ClientIPFromRequest returns the peer address of the request. Forwarding
// headers are ignored because any client can set them.
func ClientIPFromRequest(r *http.Request) string {
	return (&ProxyResolver{}).ClientIP(r)
}

// ProxyResolver resolves the client IP, honouring X-Forwarded-For and
// X-Real-IP only when the peer is a trusted proxy.
type ProxyResolver struct {
	trusted []*net.IPNet
}

// NewProxyResolver parses trusted proxy CIDRs. Bare addresses are accepted
// as single-host networks.
func NewProxyResolver(cidrs []string) (*ProxyResolver, error) {
	p := &ProxyResolver{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			ip := net.ParseIP(c)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", c)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			p.trusted = append(p.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		p.trusted = append(p.trusted, n)
	}
	return p, nil
}

// Middleware stores client metadata in the request context.
func (p *ProxyResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), p.ClientIP(r), ua)
		if fp := DeviceFingerprint(ua); fp != "" {
			ctx = requestcontext.WithDeviceFingerprint(ctx, fp)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the peer address unless the peer is trusted. Behind a
// trusted proxy the X-Forwarded-For chain is walked from the right and the
// first untrusted hop wins.
func (p *ProxyResolver) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if peer == "" {
		return "unknown"
	}
	if !p.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				return peer
			}
			if !p.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func (p *ProxyResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// DeviceFingerprint hashes the browser family, OS and device class parsed
// from a User-Agent. Minor version churn does not change the fingerprint.
// Empty input yields an empty fingerprint.
func DeviceFingerprint(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	class := "desktop"
	switch {
	case ua.Bot():
		class = "bot"
	case ua.Mobile():
		class = "mobile"
	}
	sum := sha256.Sum256([]byte(browser + "|" + ua.OSInfo().Name + "|" + ua.Platform() + "|" + class))
	return hex.EncodeToString(sum[:12])
}

// IsBotUserAgent reports whether the User-Agent self-identifies as a crawler.
func IsBotUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return useragent.New(userAgent).Bot()
}
