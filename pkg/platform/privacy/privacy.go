// Package privacy reduces personal identifiers to forms that are safe to log.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// AnonymizeIP truncates an address to its network prefix: /24 for IPv4 and
// /48 for IPv6. Unparseable input is returned as "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// HashIdentifier returns a short stable digest of an identifier for correlation
// in logs without exposing the raw value.
func HashIdentifier(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
