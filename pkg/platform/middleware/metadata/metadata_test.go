package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agegate/pkg/requestcontext"
)

const (
	chromeMac      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	chromeMacNewer = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	googlebot      = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for is ignored", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:443", "10.0.0.2"},
		{"real ip is ignored", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:443", "10.0.0.2"},
		{"remote addr ipv4", nil, "192.0.2.10:51234", "192.0.2.10"},
		{"remote addr ipv6", nil, "[2001:db8::1]:51234", "2001:db8::1"},
		{"no remote addr", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestProxyResolver(t *testing.T) {
	resolver, err := NewProxyResolver([]string{"10.0.0.0/8", " 192.0.2.1 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer cannot forward", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.9:443", "198.51.100.9"},
		{"untrusted peer cannot set real ip", map[string]string{"X-Real-IP": "203.0.113.7"}, "198.51.100.9:443", "198.51.100.9"},
		{"trusted chain skips proxies", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:443", "203.0.113.7"},
		{"spoofed leftmost hop is skipped", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7"}, "10.0.0.2:443", "203.0.113.7"},
		{"all hops trusted uses leftmost", map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.1"}, "10.0.0.2:443", "10.0.0.5"},
		{"malformed hop falls back to peer", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.2:443", "10.0.0.2"},
		{"real ip from trusted peer", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:443", "198.51.100.4"},
		{"bare trusted address", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "192.0.2.1:80", "203.0.113.8"},
		{"trusted peer without headers", nil, "10.0.0.2:443", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, resolver.ClientIP(req))
		})
	}
}

func TestNewProxyResolver_Invalid(t *testing.T) {
	_, err := NewProxyResolver([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = NewProxyResolver([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestClientMetadata(t *testing.T) {
	var ip, ua, fp string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
		fp = requestcontext.DeviceFingerprint(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/verification", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("User-Agent", chromeMac)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", ip)
	assert.Equal(t, chromeMac, ua)
	assert.NotEmpty(t, fp)
}

func TestDeviceFingerprint(t *testing.T) {
	assert.Empty(t, DeviceFingerprint(""))
	assert.Equal(t, DeviceFingerprint(chromeMac), DeviceFingerprint(chromeMacNewer))
	assert.NotEqual(t, DeviceFingerprint(chromeMac), DeviceFingerprint(googlebot))
}

func TestIsBotUserAgent(t *testing.T) {
	assert.True(t, IsBotUserAgent(googlebot))
	assert.False(t, IsBotUserAgent(chromeMac))
	assert.False(t, IsBotUserAgent(""))
}
