package pool

import (
	"github.com/bramblehttp/httpconn/connection"
	"github.com/bramblehttp/httpconn/internal"
	"github.com/bramblehttp/httpconn/resolver"
)

// DefaultLimit is the maximum number of connections a pool opens when
// no WithLimit option is given.
const DefaultLimit = 8

// Option configures a *Pool at construction.
type Option interface {
	apply(*Pool)
}

type optionFunc func(*Pool)

func (f optionFunc) apply(p *Pool) { f(p) }

// WithLimit overrides DefaultLimit.
func WithLimit(n int) Option {
	return optionFunc(func(p *Pool) { p.limit = n })
}

// WithResolver overrides how a pool resolves the authority passed to
// Lookup. If not provided, DNS resolution via net.DefaultResolver is
// used.
func WithResolver(r resolver.Resolver) Option {
	return optionFunc(func(p *Pool) { p.resolver = r })
}

// WithConnOptions supplies options applied to every connection.Conn the
// pool creates, e.g. connection.WithTLSConfig or connection.WithDialer.
func WithConnOptions(opts ...connection.Option) Option {
	return optionFunc(func(p *Pool) { p.connOpts = append(p.connOpts, opts...) })
}

// WithClock overrides the clock used for idle-connection timeout
// checks. Tests use this to inject a clockwork.FakeClock.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(p *Pool) { p.clock = clock })
}
