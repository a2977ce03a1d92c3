package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// Resolver looks up the addresses of a host. net.LookupHost satisfies it.
type Resolver func(host string) ([]string, error)

// EndpointGuard rejects upstream URLs that would make the server call into
// its own network: wallet addresses, auth servers and resource servers are
// all user-influenced.
type EndpointGuard struct {
	requireHTTPS bool
	resolve      Resolver
}

// NewEndpointGuard creates a guard. With requireHTTPS set, plain http URLs
// are refused.
func NewEndpointGuard(requireHTTPS bool) *EndpointGuard {
	return &EndpointGuard{requireHTTPS: requireHTTPS, resolve: net.LookupHost}
}

// WithResolver replaces DNS resolution (tests).
func (g *EndpointGuard) WithResolver(r Resolver) *EndpointGuard {
	g.resolve = r
	return g
}

// Check validates rawURL. Both the literal host and every address it
// resolves to must be public.
func (g *EndpointGuard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !g.requireHTTPS:
	default:
		return fmt.Errorf("URL scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	addrs, err := g.resolve(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
