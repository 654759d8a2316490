package connection

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/bramblehttp/httpconn/internal"
	"github.com/bramblehttp/httpconn/internal/asyncmutex"
	"github.com/bramblehttp/httpconn/keepalive"
	"github.com/bramblehttp/httpconn/wire"
	"github.com/bramblehttp/httpconn/wire/http1"
)

// Conn owns a single byte stream (plain TCP or TLS-over-TCP) to one
// remote endpoint, over which HTTP/1.1 requests are serialized under
// per-direction mutual exclusion.
type Conn struct {
	codec               wire.Codec
	dial                func(ctx context.Context, network, address string) (net.Conn, error)
	tlsConfig           *tls.Config
	clock               internal.Clock
	userAgent           string
	maxHeaderLineBytes  int
	bufferSize          int

	writeMtx *asyncmutex.Mutex
	readMtx  *asyncmutex.Mutex

	// hostMu serializes SetHost against concurrent SetHost/Connect
	// calls; host itself is read lock-free via an atomic.Value so that
	// Host() stays a read-only, lock-free accessor.
	hostMu sync.Mutex
	host   atomic.Value // string

	state           atomic.Int32
	ongoingRequests atomic.Int32
	keepAlive       atomic.Pointer[keepalive.Set]
	endpoint        atomic.Pointer[Endpoint]

	// netConn, br, and bw are otherwise only touched while write_mtx or
	// read_mtx is held, or while Connect is opening the connection.
	// forceClose (Close) is the exception: it closes netConn without
	// holding either lock.
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
}

// New returns a connection with no transport yet open. Call Connect (or
// have a *pool.Pool call it) before issuing requests.
func New(opts ...Option) *Conn {
	c := &Conn{
		codec:     http1.Codec{},
		dial:      defaultDial,
		clock:     internal.NewRealClock(),
		userAgent: DefaultUserAgent,
		writeMtx:  asyncmutex.New(),
		readMtx:   asyncmutex.New(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.maxHeaderLineBytes > 0 {
		if _, ok := c.codec.(http1.Codec); ok {
			c.codec = http1.Codec{MaxLineLength: c.maxHeaderLineBytes}
		}
	}
	c.host.Store("")
	c.keepAlive.Store(&keepalive.Set{Max: keepalive.Unlimited})
	c.endpoint.Store(&Endpoint{})
	return c
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) isOpen() bool {
	switch c.State() {
	case StateOpen, StateInRequest:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the connection currently has a live transport
// and may be used for a new request; a connection is idle when this is
// true and WorkingRequests is zero.
func (c *Conn) IsOpen() bool {
	return c.isOpen()
}

// WorkingRequests returns the number of live response-body stream
// handles this connection has issued. It is lock-free, honoring the
// requirement that idle detection not require acquiring any lock.
func (c *Conn) WorkingRequests() int32 {
	return c.ongoingRequests.Load()
}

// Host returns the host string used for TLS SNI and the Host header.
func (c *Conn) Host() string {
	v, _ := c.host.Load().(string)
	return v
}

// Endpoint returns the remote endpoint this connection last connected
// to, or the zero Endpoint if it has never connected.
func (c *Conn) Endpoint() Endpoint {
	return *c.endpoint.Load()
}

// Timeout returns the keep-alive deadline after which this connection
// must not be reused.
func (c *Conn) Timeout() time.Time {
	return c.keepAlive.Load().Deadline
}

func (c *Conn) keepAliveSet() keepalive.Set {
	return *c.keepAlive.Load()
}

func (c *Conn) setKeepAlive(set keepalive.Set) {
	c.keepAlive.Store(&set)
}

// SetHost sets the TLS SNI / Host header source. It must not be called
// while the connection is open; doing so returns an error rather than
// silently taking effect on the next Connect.
func (c *Conn) SetHost(host string) error {
	if !httpguts.ValidHostHeader(host) {
		return fmt.Errorf("%w: invalid host %q", ErrInvalidArgument, host)
	}
	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	if c.State() != StateClosed {
		return fmt.Errorf("%w: SetHost called while connection is %s", ErrInvalidArgument, c.State())
	}
	c.host.Store(host)
	return nil
}

// Reserve reserves internal parse-buffer capacity. It is a no-op once
// the connection has already allocated its buffers at a larger size.
func (c *Conn) Reserve(n int) {
	if n > c.bufferSize {
		c.bufferSize = n
	}
}

// Connect synchronously opens the underlying transport to endpoint, and
// for a TLS-enabled connection, performs the handshake using Host() as
// SNI.
func (c *Conn) Connect(ctx context.Context, endpoint Endpoint) error {
	c.hostMu.Lock()
	opening := c.state.CompareAndSwap(int32(StateClosed), int32(StateOpening))
	c.hostMu.Unlock()
	if !opening {
		return ErrAlreadyOpen
	}
	netConn, err := c.dial(ctx, endpoint.Network, endpoint.Address)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return err
	}
	if c.tlsConfig != nil {
		tlsConn, err := c.handshake(ctx, netConn)
		if err != nil {
			_ = netConn.Close()
			c.state.Store(int32(StateClosed))
			return err
		}
		netConn = tlsConn
	}
	c.netConn = netConn
	bufSize := c.bufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	c.br = bufio.NewReaderSize(netConn, bufSize)
	c.bw = bufio.NewWriterSize(netConn, bufSize)
	c.endpoint.Store(&endpoint)
	c.keepAlive.Store(&keepalive.Set{Max: keepalive.Unlimited})
	c.state.Store(int32(StateOpen))
	return nil
}

func (c *Conn) handshake(ctx context.Context, netConn net.Conn) (*tls.Conn, error) {
	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host()
	}
	tlsConn := tls.Client(netConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// Close shuts the transport down. Requests in flight (still sending, or
// waiting for the response head) complete with ErrOperationAborted (by
// way of the transport errors their blocked reads/writes observe once
// the socket is closed out from under them); the read/write locks they
// hold are released as part of that failure path, not by this call. A
// response body being streamed reports the transport error on its next
// Read.
func (c *Conn) Close() error {
	return c.forceClose()
}

func (c *Conn) forceClose() error {
	for {
		state := c.State()
		if state == StateClosed {
			return nil
		}
		if c.state.CompareAndSwap(int32(state), int32(StateClosing)) {
			break
		}
	}
	var err error
	if c.netConn != nil {
		err = c.netConn.Close()
	}
	c.state.Store(int32(StateClosed))
	return err
}
