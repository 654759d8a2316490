package connection

import (
	"net/http"
	"net/url"
	"time"

	"github.com/bramblehttp/httpconn/cookiejar"
)

// RedirectMode is a policy enumerating which redirect targets may be
// followed at a given scope: connection, pool, or session.
type RedirectMode int

const (
	// RedirectNone never follows a redirect; the redirect response is
	// returned to the caller as-is.
	RedirectNone RedirectMode = iota
	// RedirectSameEndpoint follows a redirect only if it targets the
	// same authority the connection is already talking to. This is the
	// only mode a bare *Conn can support, since it has no resolver of
	// its own to determine whether a different authority happens to
	// resolve to the same network endpoint.
	RedirectSameEndpoint
	// RedirectSameHost follows a redirect only if host and port match
	// the original request.
	RedirectSameHost
	// RedirectSamePort follows a redirect if the port matches; the host
	// may differ.
	RedirectSamePort
	// RedirectAny follows any redirect. Only a *httpconn.Session, which
	// can dispatch across pools for different hosts, supports this.
	RedirectAny
)

// Options bundles the per-request behavior a caller can vary:
// redirect policy/limit and an overall timeout.
type Options struct {
	RedirectMode  RedirectMode
	RedirectLimit int
	// Timeout, if non-zero, bounds the entire request/response
	// round-trip, from sending the first request byte to finishing the
	// response head (it does not bound how long the caller takes to
	// drain the response body). Overridden by any deadline already set
	// on the context passed to Ropen, if that deadline is sooner.
	Timeout time.Duration
}

// DefaultOptions returns the Options a bare *Conn assumes when the
// caller passes a zero Options value: no redirects followed.
func DefaultOptions() Options {
	return Options{RedirectMode: RedirectNone, RedirectLimit: 10}
}

// Request is a value bundle describing one HTTP request.
type Request struct {
	Method  string
	URL     *url.URL
	Body    Body
	Header  http.Header
	Options Options
	// Jar, if non-nil, supplies the outbound Cookie header and absorbs
	// inbound Set-Cookie headers for this request.
	Jar cookiejar.Jar
}

// Clone returns a deep-enough copy of r safe to mutate independently:
// a fresh Header map, everything else copied by value. A
// *httpconn.Session uses this to build each redirect hop's request
// without mutating the caller's original.
func (r *Request) Clone() *Request {
	return r.clone()
}

func (r *Request) clone() *Request {
	clone := *r
	clone.Header = r.Header.Clone()
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	return &clone
}
