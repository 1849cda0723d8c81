package address

import (
	"context"
	"net"

	"github.com/jroosing/gobolt/internal/errorkind"
)

// Resolver is the user-supplied custom address resolver hook
// (spec.md §6). It must return a non-empty list of substitute addresses;
// an empty result is an InvalidConfig error, and a resolver error is
// wrapped as a UserCallback error.
type Resolver interface {
	Resolve(a Address) ([]Address, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(a Address) ([]Address, error)

func (f ResolverFunc) Resolve(a Address) ([]Address, error) { return f(a) }

// DNSLookup abstracts net.DefaultResolver.LookupIPAddr for injection in
// tests; production code uses LookupSocketAddrs.
type DNSLookup func(ctx context.Context, host string) ([]net.IPAddr, error)

// LookupSocketAddrs is the production DNSLookup, backed by the standard
// resolver.
func LookupSocketAddrs(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// customResolve applies the custom resolver (if any) to a, returning the
// substitute addresses in their original order. If a is already
// custom-resolved, or no resolver is configured, it returns []Address{a}.
func customResolve(a Address, resolver Resolver) ([]Address, error) {
	if resolver == nil || a.custom {
		return []Address{a}, nil
	}
	out, err := resolver.Resolve(a)
	if err != nil {
		return nil, errorkind.NewUserCallback(errorkind.SourceResolver, err)
	}
	if len(out) == 0 {
		return nil, errorkind.NewInvalidConfig("custom resolver returned no addresses")
	}
	resolved := make([]Address, len(out))
	for i, o := range out {
		o.custom = true
		resolved[i] = o
	}
	return resolved, nil
}

// dnsExpand expands a into one Address per DNS-resolved socket endpoint,
// preserving custom_resolved and carrying a's host as the unresolved key.
// If a is already DNS-resolved (an IP literal, or produced by a prior
// resolution pass), it is returned unchanged.
func dnsExpand(ctx context.Context, a Address, lookup DNSLookup) ([]Address, error) {
	if a.dns {
		return []Address{a}, nil
	}
	ips, err := lookup(ctx, a.host)
	if err != nil {
		return nil, errorkind.NewDisconnect("dns", false, err)
	}
	out := make([]Address, 0, len(ips))
	for _, ip := range ips {
		out = append(out, Address{
			host:   ip.IP.String(),
			port:   a.port,
			key:    a.host,
			custom: a.custom,
			dns:    true,
		})
	}
	return out, nil
}

// FullyResolve applies the custom resolver (unless already custom-resolved)
// and then DNS-expands each result, returning one Address per resolved
// socket endpoint. The result is built eagerly, as one list, because the
// caller (connector.Open) always consumes the whole list before trying to
// connect.
func FullyResolve(ctx context.Context, a Address, resolver Resolver, lookup DNSLookup) ([]Address, error) {
	if lookup == nil {
		lookup = LookupSocketAddrs
	}
	customResolved, err := customResolve(a, resolver)
	if err != nil {
		return nil, err
	}
	var out []Address
	for _, c := range customResolved {
		expanded, err := dnsExpand(ctx, c, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}
