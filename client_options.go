package httpconn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/bramblehttp/httpconn/cookiejar"
	"github.com/bramblehttp/httpconn/internal"
	"github.com/bramblehttp/httpconn/resolver"
)

// SessionOption customizes a *Session at construction.
type SessionOption interface {
	apply(*sessionOptions)
}

type sessionOptionFunc func(*sessionOptions)

func (f sessionOptionFunc) apply(opts *sessionOptions) { f(opts) }

// WithDialer configures the Session to use the given function to
// establish network connections for every pool it creates. If no
// WithDialer option is provided, a default *net.Dialer with a
// 30-second dial timeout is used.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig supplies the TLS configuration used for "https" pools.
// It is cloned per connection so SNI can be set without mutating the
// caller's config.
func WithTLSConfig(config *tls.Config) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.tlsConfig = config
	})
}

// WithPoolLimit overrides pool.DefaultLimit for every pool the
// Session creates.
func WithPoolLimit(limit int) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.poolLimit = limit
	})
}

// WithResolver overrides how every pool the Session creates resolves
// its authority. If not provided, DNS resolution is used.
func WithResolver(r resolver.Resolver) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.resolver = r
	})
}

// WithCookieJar installs a cookie jar applied to every request that
// does not already specify one of its own.
func WithCookieJar(jar cookiejar.Jar) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.jar = jar
	})
}

// WithUserAgent overrides connection.DefaultUserAgent for every
// connection the Session's pools create.
func WithUserAgent(userAgent string) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.userAgent = userAgent
	})
}

// WithDefaultTimeout limits requests that otherwise have no per-request
// timeout set in their Options to the given duration. A request's own
// connection.Options.Timeout, if non-zero, takes priority.
func WithDefaultTimeout(d time.Duration) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.defaultTimeout = d
	})
}

// WithClock overrides the clock used by every pool/connection the
// Session creates. Tests use this to inject a clockwork.FakeClock.
func WithClock(clock internal.Clock) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.clock = clock
	})
}

type sessionOptions struct {
	dialFunc       func(ctx context.Context, network, addr string) (net.Conn, error)
	tlsConfig      *tls.Config
	poolLimit      int
	resolver       resolver.Resolver
	jar            cookiejar.Jar
	userAgent      string
	defaultTimeout time.Duration
	clock          internal.Clock
}

func (opts *sessionOptions) applyDefaults() {
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}
