// Package pool implements a bounded multimap of connection.Conn values
// sharing one resolved authority: idle-connection reuse, create-under-
// limit allocation across the least-loaded resolved endpoint, and
// least-loaded sharing once the pool is saturated.
package pool

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/bramblehttp/httpconn/attrs"
	"github.com/bramblehttp/httpconn/connection"
	"github.com/bramblehttp/httpconn/internal"
	"github.com/bramblehttp/httpconn/resolver"
)

// Weight biases endpoint selection when opening a new connection: an
// endpoint whose resolver.Resolved.Attributes carries attrs.Value(Weight, w)
// for w > 0 is treated as if it had 1/w times its actual connection
// count when compared against its siblings, so a resolver that knows
// one address is backed by a bigger fleet can steer more new
// connections its way. Endpoints with no Weight attribute, or a
// non-positive one, are weighted 1.
var Weight = attrs.NewKey[float64]()

// Pool owns zero or more connections to the endpoints one authority
// resolves to, reusing idle connections before opening new ones, up to
// a configured limit.
type Pool struct {
	limit    int
	resolver resolver.Resolver
	connOpts []connection.Option
	clock    internal.Clock

	mu              sync.Mutex
	host            string
	endpoints       []connection.Endpoint
	attributes      map[connection.Endpoint]attrs.Attributes
	conns           map[connection.Endpoint][]*connection.Conn
	pendingConnects int
	rnd             *rand.Rand

	// connecting bounds the number of connect() calls in flight at
	// once, so a burst of callers hitting a cold pool can't all dial
	// simultaneously past the pool's configured limit.
	connecting *semaphore.Weighted

	sf singleflight.Group
}

type lookupResult struct {
	host       string
	endpoints  []connection.Endpoint
	attributes map[connection.Endpoint]attrs.Attributes
}

// New returns an empty pool. Call Lookup before GetConnection/Ropen.
func New(opts ...Option) *Pool {
	p := &Pool{
		limit: DefaultLimit,
		conns: make(map[connection.Endpoint][]*connection.Conn),
		clock: internal.NewRealClock(),
		rnd:   internal.NewRand(),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	if p.resolver == nil {
		p.resolver = resolver.NewDNSResolver(net.DefaultResolver, "ip")
	}
	p.connecting = semaphore.NewWeighted(int64(p.limit))
	return p
}

// Host returns the authority's host name, set by the most recent
// successful Lookup.
func (p *Pool) Host() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

// Endpoints returns a copy of the currently resolved endpoint list.
func (p *Pool) Endpoints() []connection.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]connection.Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Lookup resolves hostPort via the pool's resolver, replacing the
// pool's host and endpoint list. Concurrent callers resolving the same
// authority on a cold pool are deduplicated onto a single resolver
// call via singleflight.
func (p *Pool) Lookup(ctx context.Context, hostPort string) error {
	v, err, _ := p.sf.Do(hostPort, func() (any, error) {
		resolved, err := p.resolver.Resolve(ctx, hostPort)
		if err != nil {
			return nil, err
		}
		host := hostPort
		if h, _, splitErr := net.SplitHostPort(hostPort); splitErr == nil {
			host = h
		}
		endpoints := make([]connection.Endpoint, len(resolved))
		attributes := make(map[connection.Endpoint]attrs.Attributes, len(resolved))
		for i, r := range resolved {
			endpoints[i] = r.Endpoint
			attributes[r.Endpoint] = r.Attributes
		}
		return lookupResult{host: host, endpoints: endpoints, attributes: attributes}, nil
	})
	if err != nil {
		return err
	}
	result := v.(lookupResult)
	p.mu.Lock()
	p.host = result.host
	p.endpoints = result.endpoints
	p.attributes = result.attributes
	p.mu.Unlock()
	return nil
}

// totalConnsLocked returns the number of connections the pool already
// holds plus any connect calls currently in flight. Caller must hold
// p.mu.
func (p *Pool) totalConnsLocked() int {
	n := p.pendingConnects
	for _, cs := range p.conns {
		n += len(cs)
	}
	return n
}

func (p *Pool) allConnsLocked() []*connection.Conn {
	all := make([]*connection.Conn, 0, p.totalConnsLocked())
	for _, cs := range p.conns {
		all = append(all, cs...)
	}
	return all
}

// GetConnection returns a connection satisfying the pool's reuse
// policy: an idle connection if one exists, else a newly opened
// connection if the pool is under its limit, else the least-loaded
// connection once the pool is saturated.
func (p *Pool) GetConnection(ctx context.Context) (*connection.Conn, error) {
	p.mu.Lock()

	now := p.clock.Now()
	for _, c := range p.allConnsLocked() {
		if c.WorkingRequests() == 0 && c.IsOpen() && !now.After(c.Timeout()) {
			p.mu.Unlock()
			return c, nil
		}
	}

	if p.totalConnsLocked() < p.limit {
		if len(p.endpoints) == 0 {
			p.mu.Unlock()
			return nil, connection.ErrNotFound
		}
		endpoint := p.leastLoadedEndpointLocked()
		host := p.host
		p.pendingConnects++
		p.mu.Unlock()

		c, err := p.dial(ctx, host, endpoint)

		p.mu.Lock()
		p.pendingConnects--
		if err == nil {
			p.conns[endpoint] = append(p.conns[endpoint], c)
		}
		p.mu.Unlock()
		return c, err
	}

	all := p.allConnsLocked()
	pending := p.pendingConnects
	tieBreaks := make([]uint64, len(all))
	for i := range tieBreaks {
		tieBreaks[i] = p.rnd.Uint64()
	}
	p.mu.Unlock()
	if len(all) == 0 {
		if pending > 0 {
			// Every slot is taken by a connect still in flight: wait for
			// those dials to finish, then pick again.
			if err := p.connecting.Acquire(ctx, int64(p.limit)); err != nil {
				return nil, err
			}
			p.connecting.Release(int64(p.limit))
			return p.GetConnection(ctx)
		}
		return nil, connection.ErrNotFound
	}
	return pickLeastLoaded(all, tieBreaks), nil
}

// dial opens and configures one new connection outside the pool
// mutex, gated by the connecting semaphore so that a burst of callers
// can't dial more than limit connections at once.
func (p *Pool) dial(ctx context.Context, host string, endpoint connection.Endpoint) (*connection.Conn, error) {
	if err := p.connecting.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.connecting.Release(1)

	c := connection.New(p.connOpts...)
	if err := c.SetHost(host); err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, endpoint); err != nil {
		return nil, err
	}
	return c, nil
}

// leastLoadedEndpointLocked picks the endpoint with the fewest
// weight-adjusted connections currently assigned to it, tie-broken
// pseudo-randomly so that a cold pool doesn't always favor the
// resolver's first address. Caller must hold p.mu.
func (p *Pool) leastLoadedEndpointLocked() connection.Endpoint {
	best := p.endpoints[0]
	bestScore := p.weightedLoadLocked(best)
	bestTie := p.rnd.Uint64()
	for _, ep := range p.endpoints[1:] {
		score := p.weightedLoadLocked(ep)
		tie := p.rnd.Uint64()
		if score < bestScore || (score == bestScore && tie < bestTie) {
			best, bestScore, bestTie = ep, score, tie
		}
	}
	return best
}

// weightedLoadLocked divides ep's connection count by its resolver-
// supplied Weight attribute, if any, so that a higher-weighted
// endpoint looks less loaded for the same connection count. Caller
// must hold p.mu.
func (p *Pool) weightedLoadLocked(ep connection.Endpoint) float64 {
	weight := 1.0
	if w, ok := attrs.GetValue(p.attributes[ep], Weight); ok && w > 0 {
		weight = w
	}
	return float64(len(p.conns[ep])) / weight
}

// clampRedirectMode narrows a request's redirect mode to the widest
// mode a pool supports on its own (same_host): requests asking for
// same_port or any are served as if they asked for same_host, since
// spanning hosts is a *httpconn.Session's job, not a pool's.
func clampRedirectMode(mode connection.RedirectMode) connection.RedirectMode {
	switch mode {
	case connection.RedirectSamePort, connection.RedirectAny:
		return connection.RedirectSameHost
	default:
		return mode
	}
}

func drainAndClose(body *connection.Stream) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func sameHost(origin, target *url.URL) bool {
	return origin.Scheme == target.Scheme && hostPortOf(origin) == hostPortOf(target)
}

func hostPortOf(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return u.Hostname() + ":" + port
}

// Ropen runs the request/response cycle, following redirects itself up
// to clampRedirectMode's ceiling: a single *connection.Conn only ever
// follows a redirect that stays on its own socket, so this loop may
// hand later hops to a different connection from the pool as long as
// they land on the same host and port. A redirect that crosses hosts
// is outside what a pool alone can do — that needs a resolver for the
// new authority, which only a *httpconn.Session has — so it is
// reported as ErrForbiddenRedirect rather than silently followed or
// silently dropped.
func (p *Pool) Ropen(ctx context.Context, req *connection.Request) (*connection.Response, error) {
	mode := clampRedirectMode(req.Options.RedirectMode)
	limit := req.Options.RedirectLimit
	if limit <= 0 && mode != connection.RedirectNone {
		limit = connection.DefaultOptions().RedirectLimit
	}

	current := req.Clone()
	current.Options.RedirectMode = connection.RedirectNone
	redirects := 0
	for {
		c, err := p.GetConnection(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, connection.ErrNotFound
		}
		resp, err := c.Ropen(ctx, current)
		if err != nil {
			return nil, err
		}
		if !resp.IsRedirect() || mode == connection.RedirectNone {
			return resp, nil
		}

		loc := resp.Header.Get("Location")
		newURL, err := connection.ResolveLocation(current.URL, loc)
		if err != nil {
			drainAndClose(resp.Body)
			return nil, fmt.Errorf("%w: invalid Location %q: %w", connection.ErrForbiddenRedirect, loc, err)
		}
		if !sameHost(current.URL, newURL) {
			drainAndClose(resp.Body)
			return nil, connection.ErrForbiddenRedirect
		}
		redirects++
		if redirects > limit {
			drainAndClose(resp.Body)
			return nil, connection.ErrTooManyRedirects
		}

		next := current.Clone()
		next.URL = newURL
		next.Options.RedirectMode = connection.RedirectNone
		if err := connection.RewriteForRedirect(next, resp.StatusCode); err != nil {
			drainAndClose(resp.Body)
			return nil, err
		}
		drainAndClose(resp.Body)
		current = next
	}
}

// Active returns the number of connections the pool currently holds.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalConnsLocked() - p.pendingConnects
}

// Close closes every connection the pool holds, fanning the closes out
// concurrently and reporting the first error encountered, if any.
func (p *Pool) Close() error {
	p.mu.Lock()
	all := p.allConnsLocked()
	p.conns = make(map[connection.Endpoint][]*connection.Conn)
	p.mu.Unlock()

	var g errgroup.Group
	for _, c := range all {
		c := c
		g.Go(c.Close)
	}
	return g.Wait()
}
