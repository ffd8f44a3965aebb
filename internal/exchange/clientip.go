package exchange

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the originating address of r. With trustProxy set it
// prefers X-Forwarded-For, skipping trustedProxies entries from the right
// (at least one), then X-Real-IP. Otherwise, or when neither header holds
// a valid address, it falls back to the socket's remote address.
func ClientIP(r *http.Request, trustProxy bool, trustedProxies int) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxies); ip != "" {
			return ip
		}
		if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedFor(xff string, trustedProxies int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")
	if trustedProxies < 1 {
		trustedProxies = 1
	}
	i := len(hops) - trustedProxies - 1
	if i < 0 {
		i = 0
	}
	return validIP(hops[i])
}

func validIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// IPAllowed reports whether ip falls inside at least one of blocks. Blocks
// are CIDR ranges; a bare address is treated as a single-host range.
// Unparseable blocks never match.
func IPAllowed(ip string, blocks []string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, b := range blocks {
		prefix, ok := parseBlock(b)
		if ok && prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseBlock(b string) (netip.Prefix, bool) {
	b = strings.TrimSpace(b)
	if !strings.Contains(b, "/") {
		addr, err := netip.ParseAddr(b)
		if err != nil {
			return netip.Prefix{}, false
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), true
	}
	prefix, err := netip.ParsePrefix(b)
	if err != nil {
		return netip.Prefix{}, false
	}
	if prefix.Addr().Is4In6() {
		prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
	}
	return prefix.Masked(), true
}
