package connection

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/bramblehttp/httpconn/internal"
	"github.com/bramblehttp/httpconn/wire"
)

// DefaultUserAgent is injected into requests that do not already supply
// one.
const DefaultUserAgent = "httpconn/1.0"

// Option configures a *Conn at construction, following this module's
// functional-options convention (see httpconn.SessionOption).
type Option interface {
	apply(*Conn)
}

type optionFunc func(*Conn)

func (f optionFunc) apply(c *Conn) { f(c) }

// WithCodec overrides the wire codec a connection drives. If not
// provided, http1.Codec{} is used.
func WithCodec(codec wire.Codec) Option {
	return optionFunc(func(c *Conn) { c.codec = codec })
}

// WithDialer overrides how a connection establishes its underlying
// transport. If not provided, a *net.Dialer with a 30s connect timeout
// is used.
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return optionFunc(func(c *Conn) { c.dial = dial })
}

// WithTLSConfig makes the connection TLS-secured: Connect wraps the
// dialed transport in a TLS handshake using this config (cloned per
// connection so SNI can be set without mutating the caller's config).
func WithTLSConfig(config *tls.Config) Option {
	return optionFunc(func(c *Conn) { c.tlsConfig = config })
}

// WithClock overrides the clock used for keep-alive deadline and
// timeout accounting. Tests use this to inject a clockwork.FakeClock.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(c *Conn) { c.clock = clock })
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(userAgent string) Option {
	return optionFunc(func(c *Conn) { c.userAgent = userAgent })
}

// WithMaxHeaderLineBytes bounds the length of any single response
// status/header line the codec will accept before failing with
// ErrMalformedHead-wrapped-equivalent (a non-positive value disables
// the bound).
func WithMaxHeaderLineBytes(n int) Option {
	return optionFunc(func(c *Conn) { c.maxHeaderLineBytes = n })
}

// WithBufferSize reserves n bytes of parse-buffer capacity up front,
// avoiding bufio growth on the first response.
func WithBufferSize(n int) Option {
	return optionFunc(func(c *Conn) { c.bufferSize = n })
}

var defaultDialer = &net.Dialer{Timeout: 30 * time.Second}

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	return defaultDialer.DialContext(ctx, network, address)
}
