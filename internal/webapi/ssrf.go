package webapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var errPrivateAddress = errors.New("fetch to private IP addresses is not allowed")

// IsPrivateHostname is a non-resolving check for obviously private hosts:
// localhost names and literal private addresses. Unparseable URLs count as
// private.
func IsPrivateHostname(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return true
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return IsPrivateIP(ip)
	}
	return false
}

// ssrfSafeDialContext checks resolved addresses at connect time so a DNS
// answer cannot point a public name at a private address.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			continue
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
	}
	return nil, errPrivateAddress
}

var privateRanges = mustParseCIDRs(
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
	"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24",
	"192.168.0.0/16", "198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24",
	"240.0.0.0/4",
	"::1/128", "fc00::/7", "fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("invalid CIDR: " + c)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private or
// reserved range.
func IsPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
