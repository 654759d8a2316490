package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/net/http/httpguts"

	"github.com/bramblehttp/httpconn/keepalive"
)

// drainAndClose reads a redirect response's body to completion before
// closing it, so that Stream.Close does not have to treat the
// connection as abandoned mid-response (it would otherwise force-close
// an early-closed, undrained body).
func drainAndClose(body *Stream) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// Ropen issues a request and returns a response-body stream, following
// the request/response dispatch algorithm, including same-endpoint redirects
// up to req.Options.RedirectLimit.
func (c *Conn) Ropen(ctx context.Context, req *Request) (*Response, error) {
	if req.Options.RedirectLimit <= 0 && req.Options.RedirectMode != RedirectNone {
		req.Options.RedirectLimit = DefaultOptions().RedirectLimit
	}
	current := req.clone()
	redirects := 0
	for {
		resp, err := c.roundTrip(ctx, current)
		if err != nil {
			return nil, err
		}
		if !resp.IsRedirect() || current.Options.RedirectMode == RedirectNone {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		newURL, err := current.URL.Parse(loc)
		if err != nil {
			drainAndClose(resp.Body)
			return nil, fmt.Errorf("%w: invalid Location %q: %w", ErrForbiddenRedirect, loc, err)
		}
		if !c.supportsRedirectTo(current.URL, newURL, current.Options.RedirectMode) {
			drainAndClose(resp.Body)
			return nil, ErrForbiddenRedirect
		}
		redirects++
		if redirects > current.Options.RedirectLimit {
			drainAndClose(resp.Body)
			return nil, ErrTooManyRedirects
		}
		next := current.clone()
		next.URL = newURL
		if err := rewriteForRedirect(next, resp.StatusCode); err != nil {
			drainAndClose(resp.Body)
			return nil, err
		}
		drainAndClose(resp.Body)
		current = next
	}
}

// supportsRedirectTo reports whether a redirect from origin to target
// is permitted. A bare *Conn is bound to one physical socket to one
// endpoint, so it can only ever follow a redirect that lands on that
// same authority, regardless of how permissive mode asks it to be:
// mode is a ceiling enforced by the layers above (pool, session) that
// do have a resolver and can open a new connection elsewhere, not a
// license for a single connection to exceed its own declared support.
// RedirectNone still short-circuits to false since it means "don't
// follow anything at all."
func (c *Conn) supportsRedirectTo(origin, target *url.URL, mode RedirectMode) bool {
	if mode == RedirectNone {
		return false
	}
	return origin.Host == target.Host && origin.Scheme == target.Scheme
}

// RewriteForRedirect applies the RFC 7231 redirect rewrite rules to
// req in place: 301/302/303 rewrite a non-GET/HEAD method to GET with
// an empty body; 307/308 preserve method and body, but require the
// body to be restartable. A *httpconn.Session uses this directly when
// following a redirect across authorities, since that hop happens
// above any single *Conn.
func RewriteForRedirect(req *Request, status int) error {
	return rewriteForRedirect(req, status)
}

// ResolveLocation resolves a Location header value against the URL a
// request was sent to, the same way Ropen's own redirect loop does.
func ResolveLocation(base *url.URL, location string) (*url.URL, error) {
	return base.Parse(location)
}

func rewriteForRedirect(req *Request, status int) error {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			req.Method = http.MethodGet
			req.Body = EmptyBody()
			req.Header.Del("Content-Type")
		}
		return nil
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if !req.Body.Restartable() {
			return ErrCannotRedirectUnbuffered
		}
		return nil
	default:
		return nil
	}
}

// roundTrip performs one send/receive cycle,
// stopping short of following any redirect (Ropen's loop does that).
func (c *Conn) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	unlockWrite, err := c.writeMtx.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperationAborted, err)
	}
	writeUnlocked := false
	releaseWrite := func() {
		if !writeUnlocked {
			writeUnlocked = true
			unlockWrite()
		}
	}
	defer releaseWrite()

	if !c.isOpen() {
		return nil, ErrNotConnected
	}
	now := c.clock.Now()
	if c.keepAliveSet().Expired(now) {
		return nil, ErrNotConnected
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	c.applyDerivedHeaders(header, req)
	if req.Jar != nil {
		if cookie := req.Jar.CookieFor(req.URL); cookie != "" {
			header.Set("Cookie", cookie)
		}
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	bodyReader, bodyLen, bodyCloser, err := req.Body.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = bodyCloser.Close() }()
	chunked := bodyLen < 0

	deadline := requestDeadline(ctx, c.clock, req.Options.Timeout)
	if err := c.withDeadline(ctx, deadline, func() error {
		return c.sendRequest(req, header, bodyReader, bodyLen, chunked)
	}); err != nil {
		_ = c.forceClose()
		return nil, mapTransportError(ctx, err)
	}

	releaseWrite()
	unlockRead, err := c.readMtx.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperationAborted, err)
	}
	c.ongoingRequests.Add(1)
	c.state.Store(int32(StateInRequest))

	var head struct {
		proto      string
		statusCode int
		status     string
		header     http.Header
		body       io.Reader
	}
	err = c.withDeadline(ctx, deadline, func() error {
		h, rerr := c.codec.ReadHead(c.br)
		if rerr != nil {
			return rerr
		}
		head.proto = fmt.Sprintf("HTTP/%d.%d", h.ProtoMajor, h.ProtoMinor)
		head.statusCode = h.StatusCode
		head.status = h.Status
		head.header = h.Header
		head.body = c.codec.NewBodyReader(c.br, h)
		c.setKeepAlive(keepalive.Parse(c.keepAliveSet(), h.Header, h.ProtoMajor, h.ProtoMinor, c.clock.Now()))
		if r, ok := head.body.(*bufio.Reader); ok && r == c.br {
			// The body runs until the server closes the connection, so
			// the connection cannot carry another request.
			c.setKeepAlive(keepalive.Set{Deadline: c.clock.Now(), Max: 0})
		}
		return nil
	})
	if err != nil {
		c.ongoingRequests.Add(-1)
		unlockRead()
		_ = c.forceClose()
		return nil, mapTransportError(ctx, err)
	}

	if req.Jar != nil {
		if setCookies := head.header.Values("Set-Cookie"); len(setCookies) > 0 {
			req.Jar.SetCookies(req.URL, setCookies)
		}
	}

	stream := newStream(c, head.body, unlockRead)
	return &Response{
		StatusCode: head.statusCode,
		Status:     head.status,
		Proto:      head.proto,
		Header:     head.header,
		Request:    req,
		Body:       stream,
	}, nil
}

func (c *Conn) sendRequest(req *Request, header http.Header, body io.Reader, bodyLen int64, chunked bool) error {
	target := req.URL.RequestURI()
	if err := c.codec.WriteHead(c.bw, req.Method, target, header, bodyLen, chunked); err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := c.codec.WriteBodyChunk(c.bw, chunked, buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return rerr
		}
	}
	if err := c.codec.FinishBody(c.bw, chunked); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) applyDerivedHeaders(header http.Header, req *Request) {
	if header.Get("Host") == "" {
		header.Set("Host", c.Host())
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", c.userAgent)
	}
	if header.Get("Connection") == "" {
		header.Set("Connection", "keep-alive")
	}
}

func validateHeader(header http.Header) error {
	for name, values := range header {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: invalid header name %q", ErrInvalidArgument, name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: invalid value for header %q", ErrInvalidArgument, name)
			}
		}
	}
	return nil
}

func mapTransportError(_ context.Context, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrOperationAborted, err)
	}
	return err
}
