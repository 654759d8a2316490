package httpconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bramblehttp/httpconn/connection"
	"github.com/bramblehttp/httpconn/pool"
)

// Session dispatches requests across one connection pool per
// authority, following redirects across pools when a request's
// redirect mode allows crossing hosts — the one thing neither a bare
// *connection.Conn nor a *pool.Pool can do on its own.
type Session struct {
	opts sessionOptions

	mu    sync.Mutex
	pools map[string]*poolEntry
}

type poolEntry struct {
	pool *pool.Pool

	once sync.Once
	err  error
}

// NewSession returns a Session with no pools yet; pools are created
// lazily, one per distinct scheme+authority, the first time a request
// targets it.
func NewSession(opts ...SessionOption) *Session {
	var options sessionOptions
	for _, opt := range opts {
		opt.apply(&options)
	}
	options.applyDefaults()
	return &Session{
		opts:  options,
		pools: make(map[string]*poolEntry),
	}
}

// Do dispatches req and follows the redirects its RedirectMode permits,
// up to its RedirectLimit, moving to another pool when a hop changes
// authority. A redirect the mode does not permit fails with
// connection.ErrForbiddenRedirect. The
// underlying pools are always asked to use connection.RedirectNone;
// the Session is the sole authority on which hops are followed,
// keeping that decision in one place regardless of scope.
func (s *Session) Do(ctx context.Context, req *connection.Request) (*connection.Response, error) {
	mode := req.Options.RedirectMode
	limit := req.Options.RedirectLimit
	if limit <= 0 && mode != connection.RedirectNone {
		limit = connection.DefaultOptions().RedirectLimit
	}
	if req.Options.Timeout == 0 {
		req.Options.Timeout = s.opts.defaultTimeout
	}
	if req.Jar == nil {
		req.Jar = s.opts.jar
	}

	current := req.Clone()
	current.Options.RedirectMode = connection.RedirectNone
	redirects := 0
	for {
		p, err := s.poolFor(ctx, current.URL)
		if err != nil {
			return nil, err
		}
		resp, err := p.Ropen(ctx, current)
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
		from, to := hostPort(current.URL), hostPort(newURL)
		switch mode {
		case connection.RedirectSameEndpoint, connection.RedirectSameHost:
			if current.URL.Scheme != newURL.Scheme || from != to {
				drainAndClose(resp.Body)
				return nil, connection.ErrForbiddenRedirect
			}
		case connection.RedirectSamePort:
			if from[strings.LastIndexByte(from, ':'):] != to[strings.LastIndexByte(to, ':'):] {
				drainAndClose(resp.Body)
				return nil, connection.ErrForbiddenRedirect
			}
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

func drainAndClose(body *connection.Stream) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// poolFor returns the pool serving u's scheme and authority, creating
// and resolving it on first use.
func (s *Session) poolFor(ctx context.Context, u *url.URL) (*pool.Pool, error) {
	authority := hostPort(u)
	key := u.Scheme + "://" + authority

	s.mu.Lock()
	entry, ok := s.pools[key]
	if !ok {
		entry = &poolEntry{pool: pool.New(s.poolOptions(u.Scheme)...)}
		s.pools[key] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		entry.err = entry.pool.Lookup(ctx, authority)
	})
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.pool, nil
}

func (s *Session) poolOptions(scheme string) []pool.Option {
	var connOpts []connection.Option
	if s.opts.dialFunc != nil {
		connOpts = append(connOpts, connection.WithDialer(s.opts.dialFunc))
	}
	if scheme == "https" {
		tlsConfig := s.opts.tlsConfig
		if tlsConfig == nil {
			tlsConfig = defaultTLSConfig()
		}
		connOpts = append(connOpts, connection.WithTLSConfig(tlsConfig))
	}
	if s.opts.userAgent != "" {
		connOpts = append(connOpts, connection.WithUserAgent(s.opts.userAgent))
	}
	connOpts = append(connOpts, connection.WithClock(s.opts.clock))

	opts := []pool.Option{
		pool.WithConnOptions(connOpts...),
		pool.WithClock(s.opts.clock),
	}
	if s.opts.poolLimit > 0 {
		opts = append(opts, pool.WithLimit(s.opts.poolLimit))
	}
	if s.opts.resolver != nil {
		opts = append(opts, pool.WithResolver(s.opts.resolver))
	}
	return opts
}

func defaultTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// hostPort returns u's authority with an explicit port, defaulting to
// 80/443 by scheme when the URL omits one, so that "http://x" and
// "http://x:80" share a pool.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return u.Hostname() + ":" + port
}

// Close closes every pool the Session has created, fanning the closes
// out concurrently and reporting the first error encountered, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	entries := make([]*poolEntry, 0, len(s.pools))
	for _, entry := range s.pools {
		entries = append(entries, entry)
	}
	s.pools = make(map[string]*poolEntry)
	s.mu.Unlock()

	var g errgroup.Group
	for _, entry := range entries {
		entry := entry
		g.Go(entry.pool.Close)
	}
	return g.Wait()
}
