// Package resolver implements single-shot authority resolution for a
// a pool's Lookup: DNS resolution of a "host[:port]"
// authority into the endpoints a pool may open connections to. Unlike
// the DNS resolver this is adapted from, there is no background
// polling/caching here — a pool resolves once per Lookup call, not on a
// continuous watch, since a pool owns a fixed set of endpoints
// for one authority rather than reconciling against a changing backend
// set.
package resolver

import (
	"context"
	"fmt"
	"net"

	"github.com/bramblehttp/httpconn/attrs"
	"github.com/bramblehttp/httpconn/connection"
)

// Resolved is one endpoint a Resolver produced, plus whatever metadata
// the resolver has about it. connection.Endpoint itself stays a bare,
// comparable dial target (it is used as a map key throughout pool), so
// any attributes a resolver wants to attach travel alongside it here
// instead of on the Endpoint value itself.
type Resolved struct {
	Endpoint   connection.Endpoint
	Attributes attrs.Attributes
}

// Resolver resolves a "host[:port]" authority into the endpoints a pool
// may connect to.
type Resolver interface {
	Resolve(ctx context.Context, hostPort string) ([]Resolved, error)
}

// dnsResolver resolves authorities using a *net.Resolver, following
// §4.2's "Resolves authorities via DNS".
type dnsResolver struct {
	resolver *net.Resolver
	network  string
}

// NewDNSResolver returns a Resolver backed by r. network restricts
// which address family is used ("ip", "ip4", or "ip6"); pass "ip" to
// accept both.
func NewDNSResolver(r *net.Resolver, network string) Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	if network == "" {
		network = "ip"
	}
	return &dnsResolver{resolver: r, network: network}
}

func (d *dnsResolver) Resolve(ctx context.Context, hostPort string) ([]Resolved, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		// No port present; treat the whole value as the host.
		host, port = hostPort, ""
	}
	ips, err := d.resolver.LookupNetIP(ctx, d.network, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %q", connection.ErrNotFound, hostPort)
	}
	resolved := make([]Resolved, len(ips))
	for i, ip := range ips {
		ip = ip.Unmap()
		addr := ip.String()
		if port != "" {
			addr = net.JoinHostPort(addr, port)
		}
		resolved[i] = Resolved{
			Endpoint:   connection.Endpoint{Network: "tcp", Address: addr},
			Attributes: attrs.New(attrs.Value(AddressFamily, ip.Unmap().Is4())),
		}
	}
	return resolved, nil
}

// AddressFamily reports whether a resolved endpoint's address is IPv4,
// letting a pool's endpoint-selection policy prefer one family over
// the other via attrs.GetValue without having to re-parse the address.
var AddressFamily = attrs.NewKey[bool]()
