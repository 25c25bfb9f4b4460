package webhook

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ssrfBlockedRange is one named CIDR the SSRF guard rejects unless it
// falls inside an explicitly allowed private range.
type ssrfBlockedRange struct {
	cidr   string
	reason string
}

var ipv4BlockedRanges = []ssrfBlockedRange{
	{"127.0.0.0/8", "loopback range"},
	{"169.254.0.0/16", "link-local range"},
	{"169.254.169.254/32", "cloud metadata address"},
	{"100.100.100.200/32", "cloud metadata address"},
	{"192.0.0.0/24", "IETF protocol assignment range"},
	{"0.0.0.0/8", "this-network range"},
}

var ipv4PrivateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

var ipv6BlockedRanges = []ssrfBlockedRange{
	{"::1/128", "loopback address"},
	{"::/128", "unspecified address"},
	{"fc00::/7", "unique local range"},
	{"fe80::/10", "link-local range"},
	{"ff00::/8", "multicast range"},
	{"64:ff9b::/96", "NAT64 range"},
	{"2001:db8::/32", "documentation range"},
}

// ssrfGuard rejects webhook target URLs that could be used to reach
// loopback, link-local, cloud-metadata, or other internal addresses,
// per spec.md §4.I's requirement that registered webhook URLs be
// validated. allowPrivateNetworks is an explicit opt-in escape hatch
// (e.g. for local development) naming CIDRs that bypass the private
// and loopback blocks.
type ssrfGuard struct {
	allowedPrivate []*net.IPNet
}

func newSSRFGuard(allowPrivateNetworks []string) *ssrfGuard {
	g := &ssrfGuard{}
	for _, cidrStr := range allowPrivateNetworks {
		if _, ipnet, err := net.ParseCIDR(cidrStr); err == nil {
			g.allowedPrivate = append(g.allowedPrivate, ipnet)
		}
	}
	return g
}

func (g *ssrfGuard) isAllowed(ip net.IP) bool {
	for _, allowed := range g.allowedPrivate {
		if allowed.Contains(ip) {
			return true
		}
	}
	return false
}

// check validates a candidate webhook URL, returning a descriptive
// error for the first violation found.
func (g *ssrfGuard) check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed, use http or https", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("URLs with embedded credentials are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip)
	}
	return g.checkHostname(host)
}

func (g *ssrfGuard) checkIP(ip net.IP) error {
	if g.isAllowed(ip) {
		return nil
	}

	ranges := ipv4BlockedRanges
	if ip4 := ip.To4(); ip4 == nil {
		ranges = ipv6BlockedRanges
	} else {
		ip = ip4
	}
	for _, br := range ranges {
		if _, cidr, err := net.ParseCIDR(br.cidr); err == nil && cidr.Contains(ip) {
			return fmt.Errorf("target IP %s is in a blocked %s (%s)", ip, br.reason, br.cidr)
		}
	}
	if ip.To4() != nil {
		for _, cidrStr := range ipv4PrivateRanges {
			if _, cidr, err := net.ParseCIDR(cidrStr); err == nil && cidr.Contains(ip) {
				return fmt.Errorf("target IP %s is a private address (%s); not allowed unless the range is explicitly permitted", ip, cidrStr)
			}
		}
	}
	return nil
}

func (g *ssrfGuard) checkHostname(host string) error {
	lower := strings.ToLower(host)
	for _, pattern := range []string{"localhost", "localhost.localdomain", "local"} {
		if lower == pattern || strings.HasSuffix(lower, "."+pattern) {
			if g.isAllowed(net.ParseIP("127.0.0.1")) {
				return nil
			}
			return fmt.Errorf("localhost hostnames are not allowed")
		}
	}
	return nil
}
