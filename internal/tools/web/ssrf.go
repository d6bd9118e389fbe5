package web

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// blockedPrefixes are ranges a fetch may never reach besides loopback,
// link-local and unspecified addresses.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// HostResolver resolves a host name to addresses.
type HostResolver func(ctx context.Context, host string) ([]string, error)

// CheckSSRF resolves host and rejects it when any address is internal.
func CheckSSRF(ctx context.Context, lookup HostResolver, host string) error {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			return fmt.Errorf("invalid IP %q for host %q", a, host)
		}
		if IsPrivateIP(ip) {
			return fmt.Errorf("SSRF blocked: host %q resolves to private IP %s", host, a)
		}
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, link-local, unspecified or in
// a private range.
func IsPrivateIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// IsDomainAllowed matches host against the allowlist. An entry "*.example.com"
// matches subdomains of example.com.
func IsDomainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range allowed {
		d = strings.ToLower(d)
		if suffix, ok := strings.CutPrefix(d, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if d == host {
			return true
		}
	}
	return false
}
